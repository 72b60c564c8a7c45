package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Breeze1203/shophub-support/models"
)

func TestInitGuestSessionCreatesBotRoomWithWelcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.sessions.InitGuestSession(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, session.SessionID)
	assert.False(t, session.Resumed)
	assert.Equal(t, models.RoomTypeBot, session.Room.Type)
	assert.Equal(t, models.RoomStatusActive, session.Room.Status)
	assert.Equal(t, models.CustomerGuest, session.Room.CustomerKind)
	require.NotNil(t, session.Greeting)
	assert.Equal(t, models.SenderBot, session.Greeting.SenderType)
	assert.Equal(t, WelcomeText, session.Greeting.Content)
	assert.Equal(t, DefaultQuickReplies, session.QuickReplies)

	msgs, err := f.store.ListMessages(ctx, session.Room.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, session.Greeting.ID, msgs[0].ID)
}

func TestInitGuestSessionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.sessions.InitGuestSession(ctx, "")
	require.NoError(t, err)
	_, err = f.chat.SendGuestMessage(ctx, first.SessionID, "da dầu", "c-1")
	require.NoError(t, err)

	again, err := f.sessions.InitGuestSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, first.SessionID, again.SessionID)
	assert.Equal(t, first.Room.ID, again.Room.ID)
	assert.Len(t, again.Messages, 3)
	assert.Contains(t, again.QuickReplies, "Kem chống nắng cho da dầu")
}

func TestInitGuestSessionUnknownTokenStartsFresh(t *testing.T) {
	f := newFixture(t)

	session, err := f.sessions.InitGuestSession(context.Background(), "no-such-session")
	require.NoError(t, err)
	assert.NotEqual(t, "no-such-session", session.SessionID)
	assert.False(t, session.Resumed)
}

func TestInitGuestSessionAfterCloseStartsFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.sessions.InitGuestSession(ctx, "")
	require.NoError(t, err)
	_, err = f.rooms.CloseRoom(ctx, first.Room.ID, GuestIdentity(first.SessionID), CloseRequest{})
	require.NoError(t, err)

	next, err := f.sessions.InitGuestSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Room.ID, next.Room.ID)
}

func TestInitAuthenticatedChatResumesOpenRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.sessions.InitAuthenticatedChat(ctx, customer("42"))
	require.NoError(t, err)
	assert.Equal(t, "Khách 42", room.CustomerName)

	again, err := f.sessions.InitAuthenticatedChat(ctx, customer("42"))
	require.NoError(t, err)
	assert.Equal(t, room.ID, again.ID)

	_, err = f.sessions.InitAuthenticatedChat(ctx, GuestIdentity("abc"))
	assert.ErrorIs(t, err, ErrLoginRequired)
}

func TestInitAuthenticatedChatConcurrentCallsShareRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := f.sessions.InitAuthenticatedChat(ctx, customer("42"))
			if assert.NoError(t, err) {
				ids[i] = room.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestInitAuthenticatedChatAfterCloseCreatesNewRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.sessions.InitAuthenticatedChat(ctx, customer("42"))
	require.NoError(t, err)
	_, err = f.rooms.CloseRoom(ctx, room.ID, customer("42"), CloseRequest{})
	require.NoError(t, err)

	next, err := f.sessions.InitAuthenticatedChat(ctx, customer("42"))
	require.NoError(t, err)
	assert.NotEqual(t, room.ID, next.ID)
	assert.Equal(t, models.RoomStatusActive, next.Status)
}

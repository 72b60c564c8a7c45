package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Breeze1203/shophub-support/models"
	"github.com/Breeze1203/shophub-support/realtime"
)

func TestGuestOilySkinGetsBotReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, err := f.sessions.InitGuestSession(ctx, "")
	require.NoError(t, err)

	res, err := f.chat.SendGuestMessage(ctx, session.SessionID, "Tư vấn da dầu", "tmp-1")
	require.NoError(t, err)
	assert.Equal(t, models.SenderCustomer, res.Message.SenderType)
	assert.Equal(t, "tmp-1", res.Message.ClientMsgID)
	require.NotNil(t, res.Reply)
	assert.Equal(t, models.SenderBot, res.Reply.SenderType)
	assert.Contains(t, res.QuickReplies, "Sữa rửa mặt cho da dầu")
	assert.False(t, res.RequiresLogin)
	assert.False(t, res.Escalated)

	events := f.pub.on(realtime.RoomTopic(session.Room.ID))
	require.GreaterOrEqual(t, len(events), 3)
	last := events[len(events)-1]
	assert.Equal(t, res.Reply.ID, last.Message.ID)
}

func TestGuestAskingForHumanNeedsLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, err := f.sessions.InitGuestSession(ctx, "")
	require.NoError(t, err)

	res, err := f.chat.SendGuestMessage(ctx, session.SessionID, "cho mình gặp nhân viên", "")
	require.NoError(t, err)
	assert.True(t, res.RequiresLogin)
	assert.False(t, res.Escalated)

	room, err := f.store.LoadRoom(ctx, session.Room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusActive, room.Status)
	assert.Empty(t, f.pub.on(realtime.TopicPendingRooms))
}

func TestAuthenticatedEscalationEntersPendingQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, err := f.sessions.InitAuthenticatedChat(ctx, customer("42"))
	require.NoError(t, err)

	res, err := f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: customer("42"), Content: "nhân viên"})
	require.NoError(t, err)
	assert.True(t, res.Escalated)
	assert.Equal(t, models.RoomStatusPending, res.Room.Status)
	assert.Equal(t, models.RoomTypeHuman, res.Room.Type)

	pending, err := f.queue.ListPendingRooms(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, room.ID, pending[0].ID)

	events := f.pub.on(realtime.TopicPendingRooms)
	require.Len(t, events, 1)
	assert.Equal(t, realtime.EventRoomPending, events[0].Type)
	assert.Len(t, f.pub.on(realtime.TopicRoomStatus), 1)
}

func TestPendingRoomMessagesSkipBot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.pendingRoom(t, "42")

	res, err := f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: customer("42"), Content: "da dầu"})
	require.NoError(t, err)
	assert.Nil(t, res.Reply)
	assert.Equal(t, models.RoomStatusPending, res.Room.Status)
}

func TestAssignedRoomRelaysBothWays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.assignedRoom(t, "42", "7")

	res, err := f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: customer("42"), Content: "da dầu"})
	require.NoError(t, err)
	assert.Nil(t, res.Reply)

	res, err = f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: agent("7"), Content: "Chào bạn"})
	require.NoError(t, err)
	assert.Equal(t, models.SenderSupport, res.Message.SenderType)
	assert.Equal(t, "Agent 7", res.Message.SenderName)
	assert.Equal(t, "7", res.Message.SenderID)

	res, err = f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: manager("1"), Content: "Mình là quản lý"})
	require.NoError(t, err)
	assert.Equal(t, models.SenderManager, res.Message.SenderType)

	_, err = f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: agent("8"), Content: "xin chào"})
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: customer("43"), Content: "xin chào"})
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestAgentCannotSendBeforeAccept(t *testing.T) {
	f := newFixture(t)
	room := f.pendingRoom(t, "42")

	_, err := f.chat.SendMessage(context.Background(), SendRequest{RoomID: room.ID, Sender: agent("7"), Content: "hello"})
	assert.ErrorIs(t, err, ErrRoomNotAssigned)
}

func TestSendToClosedRoomIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, err := f.sessions.InitAuthenticatedChat(ctx, customer("42"))
	require.NoError(t, err)
	_, err = f.rooms.CloseRoom(ctx, room.ID, customer("42"), CloseRequest{})
	require.NoError(t, err)
	before, err := f.store.ListMessages(ctx, room.ID, 0)
	require.NoError(t, err)

	_, err = f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: customer("42"), Content: "còn ai không?"})
	assert.ErrorIs(t, err, ErrRoomClosed)

	after, err := f.store.ListMessages(ctx, room.ID, 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestSendValidatesContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, err := f.sessions.InitAuthenticatedChat(ctx, customer("42"))
	require.NoError(t, err)

	_, err = f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: customer("42"), Content: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: customer("42"), Content: strings.Repeat("ă", DefaultMaxMessageRunes+1)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: customer("42"), Content: strings.Repeat("ă", DefaultMaxMessageRunes)})
	assert.NoError(t, err)

	_, err = f.chat.SendMessage(ctx, SendRequest{RoomID: "missing", Sender: customer("42"), Content: "hi"})
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = f.chat.SendGuestMessage(ctx, "", "hi", "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReplyFailureDegradesToApology(t *testing.T) {
	f := newFixtureWith(t, NewLocalLocker(), stubReplier{err: errors.New("boom")})
	ctx := context.Background()
	room, err := f.sessions.InitAuthenticatedChat(ctx, customer("42"))
	require.NoError(t, err)

	res, err := f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: customer("42"), Content: "alo"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.NotNil(t, res.Reply)
	assert.Equal(t, ApologyText, res.Reply.Content)
}

func TestMessageTimestampsNeverGoBackwards(t *testing.T) {
	f := newFixture(t)
	clock := &steppingClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	f.rooms.SetClock(clock.Now)
	ctx := context.Background()
	room, err := f.sessions.InitAuthenticatedChat(ctx, customer("42"))
	require.NoError(t, err)

	clock.Set(clock.Now().Add(-time.Hour))
	_, err = f.chat.SendMessage(ctx, SendRequest{RoomID: room.ID, Sender: customer("42"), Content: "xin chào"})
	require.NoError(t, err)

	msgs, err := f.chat.GetMessages(ctx, room.ID, customer("42"), 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
		assert.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
	}
}

func TestGetMessagesChecksAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.pendingRoom(t, "42")

	_, err := f.chat.GetMessages(ctx, room.ID, customer("43"), 0)
	assert.ErrorIs(t, err, ErrAccessDenied)

	msgs, err := f.chat.GetMessages(ctx, room.ID, agent("7"), 0)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)

	tail, err := f.chat.GetMessages(ctx, room.ID, customer("42"), msgs[len(msgs)-1].Seq)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

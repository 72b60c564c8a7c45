package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Breeze1203/shophub-support/services"
)

// CustomerServiceHandler 游客入口，凭会话令牌识别
type CustomerServiceHandler struct {
	sessions *services.SessionService
	chat     *services.ChatService
	rooms    *services.RoomService
}

func NewCustomerServiceHandler(sessions *services.SessionService, chat *services.ChatService, rooms *services.RoomService) *CustomerServiceHandler {
	return &CustomerServiceHandler{sessions: sessions, chat: chat, rooms: rooms}
}

type guestSessionRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=64"`
}

type sendMessageRequest struct {
	SessionID   string `json:"session_id"`
	Content     string `json:"content" validate:"required"`
	ClientMsgID string `json:"client_msg_id" validate:"omitempty,max=64"`
}

type guestCloseRequest struct {
	SessionID string `json:"session_id"`
	Feedback  string `json:"feedback" validate:"max=1000"`
}

// InitSession 创建或恢复游客会话；同一令牌重复调用返回同一房间
func (h *CustomerServiceHandler) InitSession(c echo.Context) error {
	var req guestSessionRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	session, err := h.sessions.InitGuestSession(c.Request().Context(), guestSession(c, req.SessionID))
	if err != nil {
		return respondError(c, err, "failed to init chat session")
	}
	status := http.StatusCreated
	if session.Resumed {
		status = http.StatusOK
	}
	return c.JSON(status, session)
}

// SendMessage 游客发消息，机器人回复随响应返回
func (h *CustomerServiceHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	sessionID := guestSession(c, req.SessionID)
	if sessionID == "" {
		return badRequest(c, "session_id is required")
	}
	result, err := h.chat.SendGuestMessage(c.Request().Context(), sessionID, req.Content, req.ClientMsgID)
	if err != nil {
		return respondError(c, err, "failed to send message")
	}
	return c.JSON(http.StatusOK, result)
}

// GetMessages 拉取历史，after 为上次收到的最大 seq
func (h *CustomerServiceHandler) GetMessages(c echo.Context) error {
	after, ok := afterCursor(c)
	if !ok {
		return badRequest(c, "invalid after cursor")
	}
	room, messages, err := h.chat.GetGuestMessages(c.Request().Context(), guestSession(c, ""), after)
	if err != nil {
		return respondError(c, err, "failed to fetch messages")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"room":     room,
		"messages": messages,
	})
}

// CloseSession 游客结束会话，不记录评分
func (h *CustomerServiceHandler) CloseSession(c echo.Context) error {
	var req guestCloseRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	sessionID := guestSession(c, req.SessionID)
	ctx := c.Request().Context()
	room, err := h.chat.GuestRoom(ctx, sessionID)
	if err != nil {
		return respondError(c, err, "failed to close session")
	}
	closed, err := h.rooms.CloseRoom(ctx, room.ID, services.GuestIdentity(sessionID), services.CloseRequest{Feedback: req.Feedback})
	if err != nil {
		return respondError(c, err, "failed to close session")
	}
	return c.JSON(http.StatusOK, closed)
}

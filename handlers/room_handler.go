package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Breeze1203/shophub-support/services"
)

// RoomHandler 登录客户的会话接口
type RoomHandler struct {
	sessions *services.SessionService
	chat     *services.ChatService
	rooms    *services.RoomService
}

func NewRoomHandler(sessions *services.SessionService, chat *services.ChatService, rooms *services.RoomService) *RoomHandler {
	return &RoomHandler{sessions: sessions, chat: chat, rooms: rooms}
}

type roomMessageRequest struct {
	Content     string `json:"content" validate:"required"`
	ClientMsgID string `json:"client_msg_id" validate:"omitempty,max=64"`
}

// InitChat 返回账号最新的未关闭房间，没有则新建
func (h *RoomHandler) InitChat(c echo.Context) error {
	room, err := h.sessions.InitAuthenticatedChat(c.Request().Context(), identityFrom(c, ""))
	if err != nil {
		return respondError(c, err, "failed to init chat")
	}
	return c.JSON(http.StatusOK, room)
}

// GetRoom 获取单个房间
func (h *RoomHandler) GetRoom(c echo.Context) error {
	room, err := h.rooms.GetRoomFor(c.Request().Context(), c.Param("id"), identityFrom(c, ""))
	if err != nil {
		return respondError(c, err, "failed to fetch room")
	}
	return c.JSON(http.StatusOK, room)
}

func (h *RoomHandler) GetMessages(c echo.Context) error {
	after, ok := afterCursor(c)
	if !ok {
		return badRequest(c, "invalid after cursor")
	}
	messages, err := h.chat.GetMessages(c.Request().Context(), c.Param("id"), identityFrom(c, ""), after)
	if err != nil {
		return respondError(c, err, "failed to fetch messages")
	}
	return c.JSON(http.StatusOK, messages)
}

func (h *RoomHandler) SendMessage(c echo.Context) error {
	var req roomMessageRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	result, err := h.chat.SendMessage(c.Request().Context(), services.SendRequest{
		RoomID:      c.Param("id"),
		Sender:      identityFrom(c, ""),
		Content:     req.Content,
		ClientMsgID: req.ClientMsgID,
	})
	if err != nil {
		return respondError(c, err, "failed to send message")
	}
	return c.JSON(http.StatusOK, result)
}

// Escalate 转人工，房间进入待接入队列
func (h *RoomHandler) Escalate(c echo.Context) error {
	room, err := h.rooms.Escalate(c.Request().Context(), c.Param("id"), identityFrom(c, ""))
	if err != nil {
		return respondError(c, err, "failed to request agent")
	}
	return c.JSON(http.StatusOK, room)
}

// CloseRoom 结束会话，可附带 1-5 的评分
func (h *RoomHandler) CloseRoom(c echo.Context) error {
	var req services.CloseRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	room, err := h.rooms.CloseRoom(c.Request().Context(), c.Param("id"), identityFrom(c, ""), req)
	if err != nil {
		return respondError(c, err, "failed to close room")
	}
	return c.JSON(http.StatusOK, room)
}

package handlers

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/Breeze1203/shophub-support/realtime"
	"github.com/Breeze1203/shophub-support/services"
)

// SupportHandler 客服台接口，路由上已挂 AgentMiddleware
type SupportHandler struct {
	queue    *services.QueueService
	chat     *services.ChatService
	rooms    *services.RoomService
	presence realtime.Presence
}

func NewSupportHandler(queue *services.QueueService, chat *services.ChatService, rooms *services.RoomService, presence realtime.Presence) *SupportHandler {
	return &SupportHandler{queue: queue, chat: chat, rooms: rooms, presence: presence}
}

// OnlineAgent 在线客服
type OnlineAgent struct {
	AgentID  string `json:"agent_id"`
	Username string `json:"username"`
}

// ListPending 待接入队列，按创建时间先后
func (h *SupportHandler) ListPending(c echo.Context) error {
	rooms, err := h.queue.ListPendingRooms(c.Request().Context())
	if err != nil {
		return respondError(c, err, "failed to fetch pending rooms")
	}
	return c.JSON(http.StatusOK, rooms)
}

// ListMine 当前客服正在接待的房间
func (h *SupportHandler) ListMine(c echo.Context) error {
	who := identityFrom(c, "")
	rooms, err := h.queue.ListAssignedRooms(c.Request().Context(), who.AccountID)
	if err != nil {
		return respondError(c, err, "failed to fetch assigned rooms")
	}
	return c.JSON(http.StatusOK, rooms)
}

// AcceptRoom 抢单，先到先得；输掉的一方得到 409
func (h *SupportHandler) AcceptRoom(c echo.Context) error {
	room, err := h.queue.AcceptRoom(c.Request().Context(), c.Param("id"), identityFrom(c, ""))
	if err != nil {
		return respondError(c, err, "failed to accept room")
	}
	return c.JSON(http.StatusOK, room)
}

func (h *SupportHandler) GetMessages(c echo.Context) error {
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

func (h *SupportHandler) SendMessage(c echo.Context) error {
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
	return c.JSON(http.StatusCreated, result.Message)
}

func (h *SupportHandler) CloseRoom(c echo.Context) error {
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

// GetPresence 当前在线的客服列表
func (h *SupportHandler) GetPresence(c echo.Context) error {
	online, err := h.presence.OnlineAgents(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to fetch online agents",
		})
	}
	agents := make([]OnlineAgent, 0, len(online))
	for id, name := range online {
		agents = append(agents, OnlineAgent{AgentID: id, Username: name})
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":  len(agents),
		"agents": agents,
	})
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Breeze1203/shophub-support/logger"
	"github.com/Breeze1203/shophub-support/models"
	"github.com/Breeze1203/shophub-support/realtime"
	"github.com/Breeze1203/shophub-support/services"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	maxFrameSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// chatConn 一个长连接：hub 上的订阅者加上它的身份
type chatConn struct {
	client *realtime.Client
	ws     *websocket.Conn
	who    services.Identity
	ctx    context.Context
	cancel context.CancelFunc
}

type ChatWebSocketHandler struct {
	hub      *realtime.Hub
	chat     *services.ChatService
	rooms    *services.RoomService
	presence realtime.Presence
	log      *logger.Logger

	// 本实例连接的身份，房间状态变化时复核房间订阅
	identities sync.Map // *realtime.Client -> services.Identity
}

func NewChatWebSocketHandler(hub *realtime.Hub, chat *services.ChatService, rooms *services.RoomService, presence realtime.Presence, log *logger.Logger) *ChatWebSocketHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ChatWebSocketHandler{
		hub:      hub,
		chat:     chat,
		rooms:    rooms,
		presence: presence,
		log:      log.With("component", "ChatWebSocket"),
	}
}

// HandleWebSocket 登录用户带 token，游客带 session 查询参数
func (h *ChatWebSocketHandler) HandleWebSocket(c echo.Context) error {
	who := identityFrom(c, "")
	if !who.Authenticated && who.GuestSessionID == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "missing authorization token",
		})
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := &chatConn{
		client: h.hub.NewClient(who.AccountID),
		ws:     ws,
		who:    who,
		ctx:    ctx,
		cancel: cancel,
	}

	h.identities.Store(conn.client, who)

	if who.IsAgent() {
		if err := h.presence.Online(ctx, who.AccountID, who.DisplayName); err != nil {
			h.log.Warn("failed to mark agent online", "agentID", who.AccountID, "error", err)
		}
	}

	h.reply(conn, realtime.Frame{Type: realtime.FrameConnected, Message: conn.client.ID})

	// 启动写入goroutine
	go h.writePump(conn)

	// 当前goroutine处理读取
	h.readPump(conn)

	return nil
}

// 读取客户端帧
func (h *ChatWebSocketHandler) readPump(conn *chatConn) {
	defer func() {
		conn.cancel()
		h.hub.CloseClient(conn.client)
		h.identities.Delete(conn.client)
		conn.ws.Close()

		if conn.who.IsAgent() {
			if err := h.presence.Offline(context.Background(), conn.who.AccountID); err != nil {
				h.log.Warn("failed to mark agent offline", "agentID", conn.who.AccountID, "error", err)
			}
		}
	}()

	conn.ws.SetReadLimit(maxFrameSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame realtime.Frame
		err := conn.ws.ReadJSON(&frame)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", "clientID", conn.client.ID, "error", err)
			}
			return
		}

		h.handleFrame(conn, frame)
	}
}

// 向客户端写入帧
func (h *ChatWebSocketHandler) writePump(conn *chatConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case <-conn.ctx.Done():
			return

		case <-conn.client.Done():
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-conn.client.Outbound:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteJSON(frame); err != nil {
				h.log.Warn("websocket write failed", "clientID", conn.client.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// 帧类型分发
func (h *ChatWebSocketHandler) handleFrame(conn *chatConn, frame realtime.Frame) {
	switch frame.Type {
	case realtime.FrameSubscribe:
		if err := h.authorize(conn.ctx, conn.who, frame.Topic); err != nil {
			h.replyError(conn, frame, err)
			return
		}
		h.hub.Subscribe(conn.client, frame.Topic)
	case realtime.FrameUnsubscribe:
		h.hub.Unsubscribe(conn.client, frame.Topic)
	case realtime.FrameSend:
		h.handleSend(conn, frame)
	case realtime.FrameConnected, realtime.FrameEvent, realtime.FrameError:
		h.replyError(conn, frame, fmt.Errorf("%w: unexpected frame type %q", services.ErrValidation, frame.Type))
	default:
		h.replyError(conn, frame, fmt.Errorf("%w: unknown frame type %q", services.ErrValidation, frame.Type))
	}
}

// authorize 客户只能订阅自己的房间；客服可订阅队列、状态和自己的分配通知
func (h *ChatWebSocketHandler) authorize(ctx context.Context, who services.Identity, topic string) error {
	if roomID, ok := realtime.ParseRoomTopic(topic); ok {
		_, err := h.rooms.GetRoomFor(ctx, roomID, who)
		return err
	}
	if agentID, ok := realtime.ParseAgentQueue(topic); ok {
		if !who.IsAgent() || who.AccountID != agentID {
			return services.ErrAccessDenied
		}
		return nil
	}
	switch topic {
	case realtime.TopicPendingRooms, realtime.TopicRoomStatus:
		if !who.IsAgent() {
			return services.ErrAccessDenied
		}
		return nil
	}
	return fmt.Errorf("%w: unknown topic %q", services.ErrValidation, topic)
}

// Deliver 总线投递回调：房间被接入或关闭时先撤销不再有读权限的房间订阅，再分发
func (h *ChatWebSocketHandler) Deliver(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventRoomAssigned, realtime.EventRoomClosed:
		if ev.Room != nil {
			h.revokeRoomReaders(ev.Room)
		}
	case realtime.EventMessage, realtime.EventRoomPending:
	}
	h.hub.Broadcast(ev)
}

func (h *ChatWebSocketHandler) revokeRoomReaders(room *models.Room) {
	n := h.hub.Revoke(realtime.RoomTopic(room.ID), func(c *realtime.Client) bool {
		v, ok := h.identities.Load(c)
		if !ok {
			return false
		}
		return services.CanRead(room, v.(services.Identity))
	}, services.ErrAccessDenied.Error())
	if n > 0 {
		h.log.Info("room subscriptions revoked", "room_id", room.ID, "status", room.Status, "count", n)
	}
}

// handleSend 消息进入消息管道，结果通过房间主题回推
func (h *ChatWebSocketHandler) handleSend(conn *chatConn, frame realtime.Frame) {
	roomID, ok := realtime.ParseSendDestination(frame.Destination)
	if !ok {
		h.replyError(conn, frame, fmt.Errorf("%w: invalid destination %q", services.ErrValidation, frame.Destination))
		return
	}
	var payload realtime.SendPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		h.replyError(conn, frame, fmt.Errorf("%w: invalid payload", services.ErrValidation))
		return
	}
	_, err := h.chat.SendMessage(conn.ctx, services.SendRequest{
		RoomID:      roomID,
		Sender:      conn.who,
		Content:     payload.Content,
		ClientMsgID: payload.ClientMsgID,
	})
	if err != nil {
		h.replyError(conn, frame, err)
	}
}

func (h *ChatWebSocketHandler) replyError(conn *chatConn, frame realtime.Frame, err error) {
	msg := err.Error()
	if statusFor(err) == http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		h.log.Error("websocket frame failed", "clientID", conn.client.ID, "type", frame.Type, "error", err)
		msg = "internal error"
	}
	h.reply(conn, realtime.Frame{
		Type:        realtime.FrameError,
		Topic:       frame.Topic,
		Destination: frame.Destination,
		Message:     msg,
	})
}

// reply 发送队列满时断开连接，客户端重连后拉取补齐
func (h *ChatWebSocketHandler) reply(conn *chatConn, frame realtime.Frame) {
	select {
	case conn.client.Outbound <- frame:
	default:
		h.log.Warn("client send buffer full, disconnecting", "clientID", conn.client.ID)
		h.hub.CloseClient(conn.client)
	}
}

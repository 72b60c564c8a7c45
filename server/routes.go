package server

import (
	"github.com/labstack/echo/v4"

	custommiddleware "github.com/Breeze1203/shophub-support/middleware"
)

func (s *Server) SetupRoutes(authMiddleware, agentMiddleware, sendLimiter echo.MiddlewareFunc) {
	e := s.Echo
	e.GET("/healthz", s.health)

	api := e.Group("/api/v1")
	chat := api.Group("/chat")
	// 游客会话，凭 X-Guest-Session 或 session_id 识别
	guest := chat.Group("/guest")
	{
		guest.POST("/session", s.CustomerServiceHandler.InitSession)               // 创建或恢复会话
		guest.POST("/messages", s.CustomerServiceHandler.SendMessage, sendLimiter) // 发送消息
		guest.GET("/messages", s.CustomerServiceHandler.GetMessages)               // 拉取历史
		guest.POST("/close", s.CustomerServiceHandler.CloseSession)                // 结束会话
	}
	// 长连接，登录用户带 token，游客带 session
	chat.GET("/ws", s.ChatWebSocketHandler.HandleWebSocket, custommiddleware.OptionalAuthMiddleware(s.AuthService))

	// 需要认证
	rooms := chat.Group("/rooms")
	rooms.Use(authMiddleware)
	{
		rooms.POST("/init", s.RoomHandler.InitChat)                         // 获取或创建当前会话
		rooms.GET("/:id", s.RoomHandler.GetRoom)                            // 获取单个房间
		rooms.GET("/:id/messages", s.RoomHandler.GetMessages)               // 获取历史消息
		rooms.POST("/:id/messages", s.RoomHandler.SendMessage, sendLimiter) // 发送消息
		rooms.POST("/:id/escalate", s.RoomHandler.Escalate)                 // 转人工
		rooms.POST("/:id/close", s.RoomHandler.CloseRoom)                   // 结束并评分
	}

	// 客服台
	support := api.Group("/support")
	support.Use(authMiddleware, agentMiddleware)
	{
		support.GET("/rooms/pending", s.SupportHandler.ListPending)
		support.GET("/rooms/mine", s.SupportHandler.ListMine)
		support.POST("/rooms/:id/accept", s.SupportHandler.AcceptRoom)
		support.GET("/rooms/:id/messages", s.SupportHandler.GetMessages)
		support.POST("/rooms/:id/messages", s.SupportHandler.SendMessage)
		support.POST("/rooms/:id/close", s.SupportHandler.CloseRoom)
		support.GET("/presence", s.SupportHandler.GetPresence) // 在线客服
	}
}

package models

// CustomerKind 访客（会话令牌）与登录用户（账号）互斥
type CustomerKind string

const (
	CustomerGuest   CustomerKind = "GUEST"
	CustomerAccount CustomerKind = "ACCOUNT"
)

func (k CustomerKind) Valid() bool {
	switch k {
	case CustomerGuest, CustomerAccount:
		return true
	}
	return false
}

// GuestSession 访客会话，只在客户端保存令牌
type GuestSession struct {
	SessionID    string    `json:"session_id"`
	Room         *Room     `json:"room"`
	Greeting     *Message  `json:"greeting"`
	QuickReplies []string  `json:"quick_replies"`
	Messages     []Message `json:"messages"`
	Resumed      bool      `json:"resumed"`
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type ReplyRequest struct {
	RoomID        string `json:"room_id"`
	Text          string `json:"text"`
	Authenticated bool   `json:"authenticated"`
}

type Reply struct {
	Text          string   `json:"reply_text"`
	QuickReplies  []string `json:"quick_replies"`
	RequiresLogin bool     `json:"requires_login,omitempty"`
	Escalate      bool     `json:"escalate,omitempty"`
}

// ReplyGenerator 机器人回复服务（外部协作方）
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, req ReplyRequest) (*Reply, error)
}

const (
	QuickReplyHuman = "Gặp nhân viên"

	WelcomeText = "Xin chào! Mình là trợ lý ảo của cửa hàng. Mình có thể giúp gì cho bạn?"
	ApologyText = "Xin lỗi, hệ thống trả lời tự động đang gặp sự cố. Bạn vui lòng thử lại sau hoặc chọn \"Gặp nhân viên\"."
)

var DefaultQuickReplies = []string{"Tư vấn da dầu", "Tư vấn da khô", "Theo dõi đơn hàng", QuickReplyHuman}

type keywordRule struct {
	keywords []string
	reply    Reply
}

// KeywordReplier 基于关键词的默认机器人
type KeywordReplier struct {
	rules []keywordRule
}

func NewKeywordReplier() *KeywordReplier {
	return &KeywordReplier{rules: []keywordRule{
		{
			keywords: []string{"da dầu"},
			reply: Reply{
				Text:         "Da dầu nên dùng sữa rửa mặt dịu nhẹ dạng gel, toner không cồn và kem dưỡng mỏng nhẹ. Đừng quên kem chống nắng kiềm dầu nhé!",
				QuickReplies: []string{"Sữa rửa mặt cho da dầu", "Kem chống nắng cho da dầu", QuickReplyHuman},
			},
		},
		{
			keywords: []string{"da khô"},
			reply: Reply{
				Text:         "Da khô cần sữa rửa mặt dạng kem, serum cấp ẩm chứa hyaluronic acid và kem dưỡng giàu ẩm vào buổi tối.",
				QuickReplies: []string{"Serum cấp ẩm", "Kem dưỡng ban đêm", QuickReplyHuman},
			},
		},
		{
			keywords: []string{"đơn hàng", "giao hàng"},
			reply: Reply{
				Text:         "Bạn có thể xem trạng thái đơn hàng trong mục \"Đơn hàng của tôi\". Nếu cần hỗ trợ thêm, hãy chọn \"Gặp nhân viên\".",
				QuickReplies: []string{"Đơn hàng của tôi", QuickReplyHuman},
			},
		},
		{
			keywords: []string{"xin chào", "chào", "hello"},
			reply: Reply{
				Text:         WelcomeText,
				QuickReplies: DefaultQuickReplies,
			},
		},
	}}
}

func (r *KeywordReplier) GenerateReply(_ context.Context, req ReplyRequest) (*Reply, error) {
	text := strings.ToLower(strings.TrimSpace(req.Text))
	if wantsHuman(text) {
		if !req.Authenticated {
			return &Reply{
				Text:          "Bạn vui lòng đăng nhập để được kết nối với nhân viên hỗ trợ nhé.",
				QuickReplies:  []string{"Đăng nhập"},
				RequiresLogin: true,
			}, nil
		}
		return &Reply{
			Text:     "Mình đang kết nối bạn với nhân viên hỗ trợ, bạn vui lòng chờ trong giây lát.",
			Escalate: true,
		}, nil
	}
	for _, rule := range r.rules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				reply := rule.reply
				reply.QuickReplies = append([]string(nil), rule.reply.QuickReplies...)
				return &reply, nil
			}
		}
	}
	return &Reply{
		Text:         "Mình chưa hiểu rõ câu hỏi của bạn. Bạn có thể chọn một trong các gợi ý bên dưới.",
		QuickReplies: append([]string(nil), DefaultQuickReplies...),
	}, nil
}

func wantsHuman(text string) bool {
	return strings.Contains(text, "nhân viên") || strings.Contains(text, "tư vấn viên")
}

// HTTPReplier 调用外部回复服务
type HTTPReplier struct {
	url    string
	client *http.Client
}

func NewHTTPReplier(url string, timeout time.Duration) *HTTPReplier {
	return &HTTPReplier{url: url, client: &http.Client{Timeout: timeout}}
}

func (r *HTTPReplier) GenerateReply(ctx context.Context, req ReplyRequest) (*Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstreamUnavailable, err)
	}
	if strings.TrimSpace(reply.Text) == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrUpstreamUnavailable)
	}
	return &reply, nil
}

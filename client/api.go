package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Breeze1203/shophub-support/models"
	"github.com/Breeze1203/shophub-support/services"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	guestSessionHeader = "X-Guest-Session"
)

// knownErrors 服务端错误信息与服务层错误一一对应
var knownErrors = []error{
	services.ErrRoomNotFound,
	services.ErrSessionNotFound,
	services.ErrAccessDenied,
	services.ErrRoomClosed,
	services.ErrRoomAlreadyAssigned,
	services.ErrRoomNotPending,
	services.ErrRoomNotAssigned,
	services.ErrLoginRequired,
	services.ErrUpstreamUnavailable,
	services.ErrInvalidToken,
}

// APIError 非 2xx 响应
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Unwrap 让 errors.Is(err, services.ErrRoomClosed) 之类的判断在客户端同样成立
func (e *APIError) Unwrap() error {
	for _, known := range knownErrors {
		if strings.HasPrefix(e.Message, known.Error()) {
			return known
		}
	}
	if e.Status == http.StatusBadRequest {
		return services.ErrValidation
	}
	return nil
}

// API 客服聊天 REST 客户端；token 为空时按游客调用
type API struct {
	baseURL    string
	token      string
	session    string
	httpClient *http.Client
}

func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// WithToken 返回使用登录令牌的副本
func (a *API) WithToken(token string) *API {
	cp := *a
	cp.token = token
	return &cp
}

// WithSession 返回使用游客会话令牌的副本
func (a *API) WithSession(sessionID string) *API {
	cp := *a
	cp.session = sessionID
	return &cp
}

type sendBody struct {
	SessionID   string `json:"session_id,omitempty"`
	Content     string `json:"content"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

type guestHistory struct {
	Room     *models.Room     `json:"room"`
	Messages []models.Message `json:"messages"`
}

func (a *API) InitGuestSession(ctx context.Context) (*models.GuestSession, error) {
	var out models.GuestSession
	if err := a.do(ctx, http.MethodPost, "/api/v1/chat/guest/session", map[string]string{"session_id": a.session}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) SendGuestMessage(ctx context.Context, content, clientMsgID string) (*services.SendResult, error) {
	var out services.SendResult
	body := sendBody{SessionID: a.session, Content: content, ClientMsgID: clientMsgID}
	if err := a.do(ctx, http.MethodPost, "/api/v1/chat/guest/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) GuestMessages(ctx context.Context, after uint64) (*models.Room, []models.Message, error) {
	var out guestHistory
	path := "/api/v1/chat/guest/messages?after=" + strconv.FormatUint(after, 10)
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Room, out.Messages, nil
}

func (a *API) CloseGuestSession(ctx context.Context, feedback string) (*models.Room, error) {
	var out models.Room
	body := map[string]string{"session_id": a.session, "feedback": feedback}
	if err := a.do(ctx, http.MethodPost, "/api/v1/chat/guest/close", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) InitChatRoom(ctx context.Context) (*models.Room, error) {
	var out models.Room
	if err := a.do(ctx, http.MethodPost, "/api/v1/chat/rooms/init", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Messages(ctx context.Context, roomID string, after uint64) ([]models.Message, error) {
	var out []models.Message
	path := fmt.Sprintf("/api/v1/chat/rooms/%s/messages?after=%d", url.PathEscape(roomID), after)
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) SendMessage(ctx context.Context, roomID, content, clientMsgID string) (*services.SendResult, error) {
	var out services.SendResult
	path := fmt.Sprintf("/api/v1/chat/rooms/%s/messages", url.PathEscape(roomID))
	if err := a.do(ctx, http.MethodPost, path, sendBody{Content: content, ClientMsgID: clientMsgID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Escalate(ctx context.Context, roomID string) (*models.Room, error) {
	var out models.Room
	path := fmt.Sprintf("/api/v1/chat/rooms/%s/escalate", url.PathEscape(roomID))
	if err := a.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) CloseRoom(ctx context.Context, roomID string, req services.CloseRequest) (*models.Room, error) {
	var out models.Room
	path := fmt.Sprintf("/api/v1/chat/rooms/%s/close", url.PathEscape(roomID))
	if err := a.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) PendingRooms(ctx context.Context) ([]models.Room, error) {
	var out []models.Room
	if err := a.do(ctx, http.MethodGet, "/api/v1/support/rooms/pending", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) AcceptRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var out models.Room
	path := fmt.Sprintf("/api/v1/support/rooms/%s/accept", url.PathEscape(roomID))
	if err := a.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) MyRooms(ctx context.Context) ([]models.Room, error) {
	var out []models.Room
	if err := a.do(ctx, http.MethodGet, "/api/v1/support/rooms/mine", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) AgentSendMessage(ctx context.Context, roomID, content, clientMsgID string) (*models.Message, error) {
	var out models.Message
	path := fmt.Sprintf("/api/v1/support/rooms/%s/messages", url.PathEscape(roomID))
	if err := a.do(ctx, http.MethodPost, path, sendBody{Content: content, ClientMsgID: clientMsgID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) AgentCloseRoom(ctx context.Context, roomID string, req services.CloseRequest) (*models.Room, error) {
	var out models.Room
	path := fmt.Sprintf("/api/v1/support/rooms/%s/close", url.PathEscape(roomID))
	if err := a.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AgentMessages 客服视角的房间历史
func (a *API) AgentMessages(ctx context.Context, roomID string, after uint64) ([]models.Message, error) {
	var out []models.Message
	path := fmt.Sprintf("/api/v1/support/rooms/%s/messages?after=%d", url.PathEscape(roomID), after)
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if a.session != "" {
		req.Header.Set(guestSessionHeader, a.session)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package client

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Breeze1203/shophub-support/models"
)

const (
	localIDPrefix = "local-"
	// OfflineNotice 后端不可用时展示的本地系统消息
	OfflineNotice = "Không thể kết nối tới máy chủ. Vui lòng thử lại sau."
)

// Merge 合并推送和拉取得到的消息：按 ID 去重，服务端回显了 ClientMsgID 的本地消息被替换，
// 结果按 (CreatedAt, Seq) 排序，未确认的本地消息按原顺序排在最后
func Merge(existing, incoming []models.Message) []models.Message {
	confirmed := make(map[string]models.Message, len(existing)+len(incoming))
	echoed := make(map[string]bool)
	var local []models.Message
	seenLocal := make(map[string]bool)

	for _, batch := range [][]models.Message{existing, incoming} {
		for _, m := range batch {
			if m.Provisional {
				if !seenLocal[m.ID] {
					seenLocal[m.ID] = true
					local = append(local, m)
				}
				continue
			}
			confirmed[m.ID] = m
			if m.ClientMsgID != "" {
				echoed[m.ClientMsgID] = true
			}
		}
	}

	out := make([]models.Message, 0, len(confirmed)+len(local))
	for _, m := range confirmed {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })

	for _, m := range local {
		if echoed[m.ID] {
			continue
		}
		if _, ok := confirmed[m.ID]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

// NewLocalMessage 乐观回显用的本地消息，ID 同时作为 ClientMsgID 发给服务端
func NewLocalMessage(roomID string, sender models.SenderType, content string) models.Message {
	id := localIDPrefix + uuid.New().String()
	return models.Message{
		ID:          id,
		RoomID:      roomID,
		SenderType:  sender,
		Content:     content,
		ClientMsgID: id,
		CreatedAt:   time.Now().UTC(),
		Provisional: true,
	}
}

// PlaceholderMessage 初始化失败时代替服务端消息的系统提示
func PlaceholderMessage(roomID string) models.Message {
	msg := NewLocalMessage(roomID, models.SenderSystem, OfflineNotice)
	msg.ClientMsgID = ""
	return msg
}

// Timeline 一个房间的本地消息列表，推送和轮询两路并发写入
type Timeline struct {
	mu       sync.Mutex
	messages []models.Message
	onChange func([]models.Message)
}

func NewTimeline(onChange func([]models.Message)) *Timeline {
	return &Timeline{onChange: onChange}
}

// Apply 合并一批消息，返回合并后的快照
func (t *Timeline) Apply(incoming ...models.Message) []models.Message {
	t.mu.Lock()
	t.messages = Merge(t.messages, incoming)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if len(incoming) > 0 && t.onChange != nil {
		t.onChange(snapshot)
	}
	return snapshot
}

// AddLocal 追加一条乐观消息并返回它，发送时把 ID 作为 client_msg_id
func (t *Timeline) AddLocal(roomID string, sender models.SenderType, content string) models.Message {
	msg := NewLocalMessage(roomID, sender, content)
	t.Apply(msg)
	return msg
}

// Discard 发送失败时撤回本地消息
func (t *Timeline) Discard(localID string) {
	t.mu.Lock()
	kept := t.messages[:0:0]
	for _, m := range t.messages {
		if m.Provisional && m.ID == localID {
			continue
		}
		kept = append(kept, m)
	}
	t.messages = kept
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(snapshot)
	}
}

func (t *Timeline) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// LastSeq 已确认消息中最大的 seq，包含推送来的消息
func (t *Timeline) LastSeq() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var last uint64
	for _, m := range t.messages {
		if !m.Provisional && m.Seq > last {
			last = m.Seq
		}
	}
	return last
}

func (t *Timeline) snapshotLocked() []models.Message {
	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

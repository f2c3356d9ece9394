package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockResponse MockChatModel 的单次响应
type MockResponse struct {
	Content string
	Error   error
}

// Responder 根据收到的消息决定响应，用于按角色返回不同 JSON 的场景
type Responder func(messages []*schema.Message) (string, error)

// MockChatModel 测试用的对话模型，可并发调用
type MockChatModel struct {
	mu        sync.Mutex
	responder Responder
	sequence  []MockResponse
	next      int
	delay     time.Duration
	calls     int
	received  [][]*schema.Message
}

// NewMockChatModel 每次返回同样的内容和错误
func NewMockChatModel(content string, err error) *MockChatModel {
	return &MockChatModel{
		responder: func([]*schema.Message) (string, error) { return content, err },
	}
}

// NewMockChatModelFunc 由 fn 生成每次的响应
func NewMockChatModelFunc(fn Responder) *MockChatModel {
	return &MockChatModel{responder: fn}
}

// NewMockChatModelSequential 依次返回 responses，用完后报错
func NewMockChatModelSequential(responses ...MockResponse) *MockChatModel {
	return &MockChatModel{sequence: responses}
}

// WithDelay 每次调用前等待 d，ctx 结束时提前返回
func (m *MockChatModel) WithDelay(d time.Duration) *MockChatModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Calls 返回 Generate 被调用的次数
func (m *MockChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Received 返回每次调用收到的消息
func (m *MockChatModel) Received() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*schema.Message, len(m.received))
	copy(out, m.received)
	return out
}

func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls++
	msgs := make([]*schema.Message, len(input))
	copy(msgs, input)
	m.received = append(m.received, msgs)
	delay := m.delay

	var resp MockResponse
	switch {
	case m.responder != nil:
		// responder 在锁外调用
	case m.next < len(m.sequence):
		resp = m.sequence[m.next]
		m.next++
	default:
		resp = MockResponse{Error: errors.New("mock chat model has no more responses")}
	}
	responder := m.responder
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if responder != nil {
		resp.Content, resp.Error = responder(msgs)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return schema.AssistantMessage(resp.Content, nil), nil
}

func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools 忽略工具，返回自身
func (m *MockChatModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

var _ model.ToolCallingChatModel = (*MockChatModel)(nil)

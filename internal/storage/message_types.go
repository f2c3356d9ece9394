package storage

import (
	"time"

	"cvmatch-go/internal/types"
)

// 结果消息中的错误类别
const (
	ErrorKindValidation = "validation"
	ErrorKindExtraction = "extraction"
	ErrorKindInternal   = "internal"
)

// MatchRequestMessage 异步匹配请求
type MatchRequestMessage struct {
	RequestID   string              `json:"request_id"` // 为空时由 worker 生成
	CVText      string              `json:"cv_text"`
	JobText     string              `json:"job_text"`
	Profile     string              `json:"profile,omitempty"`
	Weights     *types.WeightConfig `json:"weights,omitempty"`
	Suggestions bool                `json:"suggestions,omitempty"` // 是否同时生成改进建议
	SubmittedAt time.Time           `json:"submitted_at"`
	Attempt     int                 `json:"attempt,omitempty"`
}

// MatchResultMessage 异步匹配结果，Result 与 Error 二选一
type MatchResultMessage struct {
	RequestID   string             `json:"request_id"`
	Status      string             `json:"status"` // "completed" / "failed"
	Result      *types.MatchResult `json:"result,omitempty"`
	Suggestions []types.Suggestion `json:"suggestions,omitempty"`
	ErrorKind   string             `json:"error_kind,omitempty"`
	Error       string             `json:"error,omitempty"`
	DurationMS  int64              `json:"duration_ms"`
	CompletedAt time.Time          `json:"completed_at"`
}

package processor

import (
	"errors"
	"fmt"

	"cvmatch-go/internal/types"
)

// 基础错误，调用方用 errors.Is 区分请求错误 (4xx) 和抽取失败 (5xx)
var (
	ErrValidation       = errors.New("输入校验失败")
	ErrExtractionFailed = errors.New("特征抽取失败")
)

// ValidationError 输入不满足前置条件，在任何抽取调用之前返回
type ValidationError struct {
	Field  string
	Detail string
	Err    error // 可选的底层原因
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s (字段:%s): %s", ErrValidation, e.Field, e.Detail)
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ExtractionError 模型调用失败、超时或输出无法解析，不返回部分结果
type ExtractionError struct {
	Op   string
	Role types.Role // 只有特征抽取时填写
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("%s (操作:%s, 角色:%s): %v", ErrExtractionFailed, e.Op, e.Role, e.Err)
	}
	return fmt.Sprintf("%s (操作:%s): %v", ErrExtractionFailed, e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtractionFailed
}

// NewTooShortError 文本长度不足
func NewTooShortError(field string, length, min int) error {
	return &ValidationError{
		Field:  field,
		Detail: fmt.Sprintf("长度 %d 小于最小值 %d", length, min),
	}
}

// NewWeightsError 权重配置非法
func NewWeightsError(err error) error {
	return &ValidationError{Field: "weights", Detail: err.Error(), Err: err}
}

// NewExtractionError 包装抽取器返回的错误
func NewExtractionError(role types.Role, err error) error {
	return &ExtractionError{Op: "extract", Role: role, Err: err}
}

// NewOracleError 包装等价判断、学历查询等辅助模型调用的错误
func NewOracleError(op string, err error) error {
	return &ExtractionError{Op: op, Err: err}
}

// IsValidationError 判断是否为输入校验错误
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsExtractionError 判断是否为抽取失败
func IsExtractionError(err error) bool {
	return errors.Is(err, ErrExtractionFailed)
}

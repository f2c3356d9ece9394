package tracing

import (
	"strings"
)

const (
	// DefaultMaxLength 默认最大属性长度
	DefaultMaxLength = 200

	// MaxRedisLength Redis键最大长度
	MaxRedisLength = 100

	// MaxDocumentLength 简历/岗位文本写入 span 的最大长度
	MaxDocumentLength = 150
)

// piiKeywords 属性名包含这些关键字时值会被掩码
var piiKeywords = []string{
	"email",
	"phone",
	"password",
	"address",
	"name",
	"secret",
	"token",
	"api_key",
}

// SafeAttributeValue 敏感属性返回掩码值，其余截断到 maxLength
func SafeAttributeValue(name string, value string, maxLength int) string {
	lowerName := strings.ToLower(name)
	for _, keyword := range piiKeywords {
		if strings.Contains(lowerName, keyword) {
			return MaskPII(value)
		}
	}
	return TruncateString(value, maxLength)
}

// MaskPII 保留首尾字符，中间用 * 代替
func MaskPII(value string) string {
	runes := []rune(value)
	n := len(runes)

	switch {
	case n == 0:
		return ""
	case n == 1:
		return "*"
	case n == 2:
		return string(runes[0]) + "*"
	case n <= 4:
		return string(runes[0]) + strings.Repeat("*", n-2) + string(runes[n-1])
	}
	return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
}

// TruncateString 超长时保留首尾，中间用 ... 连接
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}

	half := (maxLength - 3) / 2
	if half < 1 {
		half = 1
	}
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

// SafeRedisKey 截断 Redis 键
func SafeRedisKey(key string) string {
	return TruncateString(key, MaxRedisLength)
}

// SafeDocument 截断简历或岗位文本
func SafeDocument(content string) string {
	return TruncateString(content, MaxDocumentLength)
}

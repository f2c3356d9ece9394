package parser

import (
	"strings"
	"unicode/utf8"
)

// cleanModelOutput 去掉 BOM，截取第一个完整的 JSON 对象，并替换非法 UTF-8
func cleanModelOutput(content string) string {
	content = strings.TrimPrefix(content, "\uFEFF")
	obj := extractJSONObject(content)
	if obj == "" {
		obj = extractBraces(content)
	}
	if obj != "" && !utf8.ValidString(obj) {
		obj = strings.ToValidUTF8(obj, "")
	}
	return obj
}

// extractJSONObject 返回 text 中第一个括号平衡的 {...}，字符串字面量中的括号不计数。
// 模型常把 JSON 包在 ```json 代码块或说明文字中。
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inStr, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inStr && c == '\\':
			escaped = true
		case c == '"':
			inStr = !inStr
		case inStr:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// extractBraces 不区分字符串字面量的括号匹配，用于引号本身不平衡的输出
func extractBraces(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeJSON 把字符串内部未转义的双引号改写为 \"。
// 一个 " 只有在下一个非空白字符是 : , ] } 时才被视为字符串结束。
func sanitizeJSON(src string) string {
	var b strings.Builder
	b.Grow(len(src) + 8)
	inStr, escaped := false, false

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case escaped:
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			b.WriteByte(c)
			escaped = true
		case c == '"' && !inStr:
			inStr = true
			b.WriteByte(c)
		case c == '"':
			j := i + 1
			for j < len(src) && strings.IndexByte(" \t\r\n", src[j]) >= 0 {
				j++
			}
			if j >= len(src) || strings.IndexByte(":,]}", src[j]) >= 0 {
				inStr = false
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

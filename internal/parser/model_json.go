package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// CompileSchema 编译 JSON Schema，schema 非法时 panic，只用于包级变量初始化
func CompileSchema(s string) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded JSON schema: %v", err))
	}
	return compiled
}

// DecodeModelJSON 从模型输出中取出 JSON 对象，按 schema 校验后解码到 dst。
// schema 为 nil 时跳过校验。所有格式问题都包装为 ErrMalformedOutput
func DecodeModelJSON(content string, schema *gojsonschema.Schema, dst any) error {
	doc, err := cleanJSONDocument(content)
	if err != nil {
		return err
	}
	if schema != nil {
		if err := validateDocument(schema, doc); err != nil {
			return err
		}
	}
	if err := json.Unmarshal([]byte(doc), dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// cleanJSONDocument 返回可以直接解码的 JSON 文本
func cleanJSONDocument(content string) (string, error) {
	doc := cleanModelOutput(content)
	if doc == "" {
		return "", fmt.Errorf("%w: 未找到 JSON 对象", ErrMalformedOutput)
	}
	if json.Valid([]byte(doc)) {
		return doc, nil
	}
	doc = sanitizeJSON(doc)
	if !json.Valid([]byte(doc)) {
		return "", fmt.Errorf("%w: 非法 JSON", ErrMalformedOutput)
	}
	return doc, nil
}

func validateDocument(schema *gojsonschema.Schema, doc string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%w: %s", ErrMalformedOutput, strings.Join(problems, "; "))
}

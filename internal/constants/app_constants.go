package constants

import "time"

const (
	// Application-level constants
	ServiceName    = "cvmatch-go"
	ServiceVersion = "1.0.0"

	// MinDocumentLength CV/岗位文本的最小字符数，低于该值直接拒绝，避免浪费抽取调用
	MinDocumentLength = 50

	// DefaultExtractionTimeout 单次特征抽取调用的默认超时
	DefaultExtractionTimeout = 45 * time.Second

	// ProfileDefault / ProfileTech 两套权重配置的名称，由调用方按岗位类别选择
	ProfileDefault = "default"
	ProfileTech    = "tech"
)

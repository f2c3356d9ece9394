// Package hashing 提供缓存 key 使用的内容指纹
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Normalize 转小写并去掉首尾空白。内部空白保持不变，避免内容不同的文档产生相同的 key
func Normalize(text string) string {
	return strings.TrimSpace(strings.ToLower(text))
}

// Fingerprint 计算规范化文本的 SHA-256，返回 64 位小写十六进制
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Key 构造 "{namespace}:{fingerprint}"
func Key(namespace, text string) string {
	return namespace + ":" + Fingerprint(text)
}

// KeyFromFingerprint 已有指纹时直接拼接，避免重复计算
func KeyFromFingerprint(namespace, fingerprint string) string {
	return namespace + ":" + fingerprint
}

// PairKey 构造 "{namespace}:{fp(a)}:{fp(b)}"。
// 顺序敏感：PairKey(ns, a, b) != PairKey(ns, b, a)。
// 需要对称查找时使用 CanonicalPairKey。
func PairKey(namespace, a, b string) string {
	return namespace + ":" + Fingerprint(a) + ":" + Fingerprint(b)
}

// CanonicalPairKey 先按规范化后的字典序排序两个输入，再构造 PairKey
func CanonicalPairKey(namespace, a, b string) string {
	pair := []string{a, b}
	sort.SliceStable(pair, func(i, j int) bool {
		return Normalize(pair[i]) < Normalize(pair[j])
	})
	return PairKey(namespace, pair[0], pair[1])
}

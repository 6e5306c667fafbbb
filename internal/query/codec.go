package query

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// api 使用与 encoding/json 兼容的配置：字段顺序固定，浮点数按最短可还原形式输出。
var api = sonic.ConfigStd

// Marshal 把文档序列化为 JSON 文本。
func Marshal(q *AudioQuery) (string, error) {
	data, err := api.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("序列化 AudioQuery 失败: %w", err)
	}
	return string(data), nil
}

// Unmarshal 从 JSON 文本还原文档。缺失的全局参数保持零值，由 Validate 负责拒绝。
func Unmarshal(s string) (*AudioQuery, error) {
	q := &AudioQuery{}
	if err := api.UnmarshalFromString(s, q); err != nil {
		return nil, fmt.Errorf("解析 AudioQuery 失败: %w", err)
	}
	if q.AccentPhrases == nil {
		q.AccentPhrases = []AccentPhrase{}
	}
	return q, nil
}

// MarshalAccentPhrases 序列化重音短语列表。
func MarshalAccentPhrases(phrases []AccentPhrase) (string, error) {
	if phrases == nil {
		phrases = []AccentPhrase{}
	}
	data, err := api.Marshal(phrases)
	if err != nil {
		return "", fmt.Errorf("序列化重音短语失败: %w", err)
	}
	return string(data), nil
}

// UnmarshalAccentPhrases 解析重音短语列表。
func UnmarshalAccentPhrases(s string) ([]AccentPhrase, error) {
	var phrases []AccentPhrase
	if err := api.UnmarshalFromString(s, &phrases); err != nil {
		return nil, fmt.Errorf("解析重音短语失败: %w", err)
	}
	return phrases, nil
}

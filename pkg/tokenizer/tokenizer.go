// Package tokenizer 提供基于 cl100k_base 编码的 token 计数。
package tokenizer

import (
	"sync"

	"rag-service-go/pkg/log"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
)

// Count 返回文本的 token 数量。
// 编码器在首次调用时初始化一次，之后作为只读资源被并发使用。
// 初始化失败时退化为按字符数估算（约 4 字符一个 token）。
func Count(text string) int {
	once.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warnf("[Tokenizer] 初始化 cl100k_base 编码器失败, 退化为字符估算: %v", err)
			return
		}
		enc = e
	})

	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultTokenEncoding is used when the configuration names none.
const DefaultTokenEncoding = "cl100k_base"

// TokenCounter reports how many tokens a text costs in a prompt.
type TokenCounter func(text string) int

// approxTokens is the fallback estimate of roughly four bytes per token.
func approxTokens(text string) int {
	return (len(text) + 3) / 4
}

// NewTiktokenCounter returns a counter backed by the named tiktoken encoding.
// The encoding is loaded on first use, since it may need to be fetched. When
// it cannot be loaded the counter falls back to an estimate.
func NewTiktokenCounter(encoding string, logger *zap.Logger) TokenCounter {
	if encoding == "" {
		encoding = DefaultTokenEncoding
	}
	var (
		once sync.Once
		enc  *tiktoken.Tiktoken
	)
	return func(text string) int {
		once.Do(func() {
			var err error
			enc, err = tiktoken.GetEncoding(encoding)
			if err != nil {
				logger.Warn("Token encoding unavailable, estimating prompt size instead",
					zap.String("encoding", encoding), zap.Error(err))
			}
		})
		if enc == nil {
			return approxTokens(text)
		}
		return len(enc.Encode(text, nil, nil))
	}
}

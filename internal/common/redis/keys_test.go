package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKey(t *testing.T) {
	kg := NewKeyGenerator()

	t.Run("md5 hex digest", func(t *testing.T) {
		// Known digest so a hash function change fails loudly: cached
		// files written by an older build would all become unreachable
		assert.Equal(t, "098f6bcd4621d373cade4e832627b4f6", kg.HashKey("test"))
	})

	t.Run("deterministic", func(t *testing.T) {
		url := "https://example.com/app-ads.txt"
		assert.Equal(t, kg.HashKey(url), kg.HashKey(url))
	})

	t.Run("fixed length regardless of input", func(t *testing.T) {
		assert.Len(t, kg.HashKey(""), 32)
		assert.Len(t, kg.HashKey("https://play.google.com/store/apps/details?id=com.example.app&hl=en&gl=us"), 32)
	})

	t.Run("distinct inputs distinct digests", func(t *testing.T) {
		assert.NotEqual(t,
			kg.HashKey("https://example.com/app-ads.txt"),
			kg.HashKey("https://example.org/app-ads.txt"))
	})
}

func TestCacheKey(t *testing.T) {
	kg := NewKeyGenerator()

	key := kg.CacheKey("https://example.com/app-ads.txt")
	assert.Regexp(t, `^adscout:cache:[a-f0-9]{32}$`, key)
	assert.Equal(t, "adscout:cache:"+kg.HashKey("https://example.com/app-ads.txt"), key)
}

func TestRateLimitKey(t *testing.T) {
	kg := NewKeyGenerator()

	assert.Equal(t, "adscout:ratelimit:googleplay", kg.RateLimitKey("googleplay"))
	assert.Equal(t, "adscout:ratelimit:appstore", kg.RateLimitKey("appstore"))
}

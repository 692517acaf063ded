package providers_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCache_ReusesUntilRefreshMargin(t *testing.T) {
	now := testNow
	cache := providers.NewTokenCache(func() time.Time { return now })
	var fetches int32
	fetch := func(context.Context) (providers.Token, error) {
		n := atomic.AddInt32(&fetches, 1)
		return providers.Token{Value: string(rune('a' + n - 1)), ExpiresAt: now.Add(10 * time.Minute)}, nil
	}

	tok, err := cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "a", tok)

	now = testNow.Add(9 * time.Minute)
	tok, err = cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "a", tok)

	// Inside the 30s margin before expiry the token is refreshed.
	now = testNow.Add(10*time.Minute - 20*time.Second)
	tok, err = cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "b", tok)
	assert.EqualValues(t, 2, atomic.LoadInt32(&fetches))
}

func TestTokenCache_KeysAreIndependent(t *testing.T) {
	cache := providers.NewTokenCache(func() time.Time { return testNow })
	fetch := func(v string) func(context.Context) (providers.Token, error) {
		return func(context.Context) (providers.Token, error) {
			return providers.Token{Value: v, ExpiresAt: testNow.Add(time.Hour)}, nil
		}
	}

	a, err := cache.Get(context.Background(), providers.CacheKey("t1", "c1", "s1"), fetch("one"))
	require.NoError(t, err)
	b, err := cache.Get(context.Background(), providers.CacheKey("t1", "c1", "s2"), fetch("two"))
	require.NoError(t, err)
	assert.Equal(t, "one", a)
	assert.Equal(t, "two", b)
}

func TestTokenCache_ErrorNotCached(t *testing.T) {
	cache := providers.NewTokenCache(func() time.Time { return testNow })
	_, err := cache.Get(context.Background(), "k", func(context.Context) (providers.Token, error) {
		return providers.Token{}, errors.New("boom")
	})
	require.Error(t, err)

	tok, err := cache.Get(context.Background(), "k", func(context.Context) (providers.Token, error) {
		return providers.Token{Value: "ok", ExpiresAt: testNow.Add(time.Hour)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", tok)
}

func TestTokenCache_InvalidateForcesRefetch(t *testing.T) {
	cache := providers.NewTokenCache(func() time.Time { return testNow })
	var fetches int32
	fetch := func(context.Context) (providers.Token, error) {
		atomic.AddInt32(&fetches, 1)
		return providers.Token{Value: "v", ExpiresAt: testNow.Add(time.Hour)}, nil
	}
	_, _ = cache.Get(context.Background(), "k", fetch)
	cache.Invalidate("k")
	_, _ = cache.Get(context.Background(), "k", fetch)
	assert.EqualValues(t, 2, atomic.LoadInt32(&fetches))
}

func TestTokenCache_ConcurrentMissesShareFetch(t *testing.T) {
	cache := providers.NewTokenCache(func() time.Time { return testNow })
	var fetches int32
	release := make(chan struct{})
	fetch := func(context.Context) (providers.Token, error) {
		atomic.AddInt32(&fetches, 1)
		<-release
		return providers.Token{Value: "shared", ExpiresAt: testNow.Add(time.Hour)}, nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := cache.Get(context.Background(), "k", fetch)
			if err == nil {
				results[i] = tok
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&fetches), int32(2))
}

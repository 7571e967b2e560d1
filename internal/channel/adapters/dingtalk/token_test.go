package dingtalk

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

type fakeFetcher struct {
	calls atomic.Int32
	ttl   time.Duration
	err   error
}

func (f *fakeFetcher) fetch(ctx context.Context) (*oauth2.Token, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{
		AccessToken: fmt.Sprintf("token-%d", n),
		Expiry:      time.Now().Add(f.ttl),
	}, nil
}

func TestTokenCacheReusesFreshToken(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{ttl: 2 * time.Hour}
	cache := newTokenCache(fetcher)

	first, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	second, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if first != second {
		t.Fatalf("token changed between calls: %q then %q", first, second)
	}
	if n := fetcher.calls.Load(); n != 1 {
		t.Fatalf("fetch called %d times, want 1", n)
	}
}

func TestTokenCacheRefetchesWithinStalenessMargin(t *testing.T) {
	t.Parallel()

	// Tokens expire inside the 60s margin, so every call must refetch.
	fetcher := &fakeFetcher{ttl: 30 * time.Second}
	cache := newTokenCache(fetcher)

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if n := fetcher.calls.Load(); n != 2 {
		t.Fatalf("fetch called %d times, want 2", n)
	}
}

func TestTokenCacheInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{ttl: 2 * time.Hour}
	cache := newTokenCache(fetcher)

	first, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	cache.Invalidate()
	second, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if first == second {
		t.Fatal("Invalidate did not force a refetch")
	}
	if n := fetcher.calls.Load(); n != 2 {
		t.Fatalf("fetch called %d times, want 2", n)
	}
}

func TestTokenCacheSurfacesFetchError(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: fmt.Errorf("upstream down")}
	cache := newTokenCache(fetcher)
	if _, err := cache.Token(context.Background()); err == nil {
		t.Fatal("expected error from failing fetcher")
	}
}

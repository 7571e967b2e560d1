package dingtalk

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// tokenRefreshMargin is how long before expiry a cached token is treated
// as stale.
const tokenRefreshMargin = 60 * time.Second

// tokenFetcher retrieves a fresh access token from the platform.
type tokenFetcher interface {
	fetch(ctx context.Context) (*oauth2.Token, error)
}

// tokenCache caches an access token and refetches when the cached one is
// within the refresh margin of expiry. Concurrent callers share one
// in-flight fetch.
type tokenCache struct {
	mu      sync.Mutex
	fetcher tokenFetcher
	source  oauth2.TokenSource
}

func newTokenCache(fetcher tokenFetcher) *tokenCache {
	return &tokenCache{fetcher: fetcher}
}

// Token returns a valid access token, fetching one if needed.
func (c *tokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.source == nil {
		c.source = oauth2.ReuseTokenSourceWithExpiry(nil, fetcherSource{fetcher: c.fetcher}, tokenRefreshMargin)
	}
	source := c.source
	c.mu.Unlock()

	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("get access token failed: %w", err)
	}
	return token.AccessToken, nil
}

// Invalidate discards the cached token so the next Token call refetches.
func (c *tokenCache) Invalidate() {
	c.mu.Lock()
	c.source = nil
	c.mu.Unlock()
}

// fetcherSource adapts a tokenFetcher to oauth2.TokenSource. The oauth2
// interface carries no context, so fetches run under their own deadline.
type fetcherSource struct {
	fetcher tokenFetcher
}

func (s fetcherSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()
	return s.fetcher.fetch(ctx)
}

// apiTokenFetcher obtains v1.0 API tokens.
type apiTokenFetcher struct {
	rest         *restClient
	clientID     string
	clientSecret string
}

func (f *apiTokenFetcher) fetch(ctx context.Context) (*oauth2.Token, error) {
	var out struct {
		AccessToken string `json:"accessToken"`
		ExpireIn    int64  `json:"expireIn"`
	}
	body := map[string]string{
		"appKey":    f.clientID,
		"appSecret": f.clientSecret,
	}
	if err := f.rest.call(ctx, http.MethodPost, "/v1.0/oauth2/accessToken", "", body, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("token response carried no accessToken")
	}
	return &oauth2.Token{
		AccessToken: out.AccessToken,
		Expiry:      time.Now().Add(time.Duration(out.ExpireIn) * time.Second),
	}, nil
}

// oapiTokenFetcher obtains legacy oapi tokens, used by media upload.
type oapiTokenFetcher struct {
	rest         *restClient
	clientID     string
	clientSecret string
}

func (f *oapiTokenFetcher) fetch(ctx context.Context) (*oauth2.Token, error) {
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	url := fmt.Sprintf("%s/gettoken?appkey=%s&appsecret=%s", oapiBaseURL, f.clientID, f.clientSecret)
	if err := f.rest.call(ctx, http.MethodGet, url, "", nil, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("oapi token response carried no access_token")
	}
	return &oauth2.Token{
		AccessToken: out.AccessToken,
		Expiry:      time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}

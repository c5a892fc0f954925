package sudreg

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
)

const (
	tokenRefreshMargin   = 30 * time.Second
	defaultTokenLifetime = time.Hour
)

// TokenCache holds one client-credentials bearer token for the process and
// refreshes it shortly before expiry.
type TokenCache struct {
	clientID     string
	clientSecret string
	config       clientcredentials.Config
	httpClient   *http.Client
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *TokenCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	clientID = strings.TrimSpace(clientID)
	clientSecret = strings.TrimSpace(clientSecret)

	// oauth2 form-escapes header credentials; the registry expects the raw
	// id:secret pair, so the header is set by the transport and the library
	// sends no client fields of its own.
	exchangeClient := *httpClient
	exchangeClient.Transport = &basicAuthTransport{
		header: "Basic " + base64.StdEncoding.EncodeToString([]byte(clientID+":"+clientSecret)),
		base:   httpClient.Transport,
	}
	return &TokenCache{
		clientID:     clientID,
		clientSecret: clientSecret,
		config: clientcredentials.Config{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		httpClient: &exchangeClient,
		now:        time.Now,
	}
}

type basicAuthTransport struct {
	header string
	base   http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", t.header)
	return base.RoundTrip(out)
}

// Token returns the cached token, exchanging credentials when none is cached
// or the cached one expires within the refresh margin.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return "", domain.WrapError(domain.ErrConfiguration, "registry token", errors.New("SUDREG_CLIENT_ID and SUDREG_CLIENT_SECRET must be set"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && c.expiresAt.Sub(now) > tokenRefreshMargin {
		return c.token, nil
	}

	tok, err := c.config.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		return "", domain.WrapError(domain.ErrUpstreamAuth, "registry token", describeTokenError(err))
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultTokenLifetime)
	}
	c.token = tok.AccessToken
	c.expiresAt = expiresAt
	return c.token, nil
}

// Invalidate drops the cached token so the next call exchanges credentials.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

func describeTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return fmt.Errorf("token endpoint status %d: %w", retrieveErr.Response.StatusCode, err)
	}
	return err
}

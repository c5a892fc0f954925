package sudreg

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/infrastructure/resilience"
)

type registryServer struct {
	*httptest.Server
	tokenCalls  atomic.Int32
	expiresIn   string
	tokenStatus int
	handler     http.HandlerFunc
}

func newRegistryServer(t *testing.T, handler http.HandlerFunc) *registryServer {
	t.Helper()
	rs := &registryServer{expiresIn: "3600", tokenStatus: http.StatusOK, handler: handler}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		rs.tokenCalls.Add(1)
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client" || secret != "secret" {
			t.Errorf("expected basic auth credentials, got %q/%q", id, secret)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("expected client_credentials grant, got %q", got)
		}
		if rs.tokenStatus != http.StatusOK {
			http.Error(w, `{"error":"invalid_client"}`, rs.tokenStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-` + strconv.Itoa(int(rs.tokenCalls.Load())) + `","token_type":"bearer","expires_in":` + rs.expiresIn + `}`))
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rs.handler(w, r)
	})
	rs.Server = httptest.NewServer(mux)
	t.Cleanup(rs.Close)
	return rs
}

func (rs *registryServer) client(clientID string) *Client {
	return New(Config{
		BaseURL:      rs.URL + "/api",
		TokenURL:     rs.URL + "/oauth/token",
		ClientID:     clientID,
		ClientSecret: "secret",
	}, resilience.NewExecutor(resilience.RegistryConfig(false), nil))
}

func TestListCompaniesSendsPagingAndBearer(t *testing.T) {
	var gotAuth, gotOffset, gotLimit string
	rs := newRegistryServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/subjekti" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotOffset = r.URL.Query().Get("offset")
		gotLimit = r.URL.Query().Get("limit")
		_, _ = w.Write([]byte(`{"rezultati":[{"mbs":"1"},{"mbs":"2"}]}`))
	})
	client := rs.client("client")

	records, err := client.ListCompanies(context.Background(), 200, 100)
	if err != nil {
		t.Fatalf("ListCompanies() error = %v", err)
	}
	if len(records) != 2 || records[1].At("mbs").Text() != "2" {
		t.Fatalf("unexpected records: %v", records)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
	if gotOffset != "200" || gotLimit != "100" {
		t.Fatalf("unexpected paging params offset=%s limit=%s", gotOffset, gotLimit)
	}
}

func TestTokenIsReusedUntilNearExpiry(t *testing.T) {
	rs := newRegistryServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	client := rs.client("client")

	for i := 0; i < 3; i++ {
		if _, err := client.ListCompanies(context.Background(), 0, 10); err != nil {
			t.Fatalf("ListCompanies() error = %v", err)
		}
	}
	if got := rs.tokenCalls.Load(); got != 1 {
		t.Fatalf("expected one token exchange, got %d", got)
	}
}

func TestTokenWithinRefreshMarginIsRenewed(t *testing.T) {
	rs := newRegistryServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	rs.expiresIn = "10"
	client := rs.client("client")

	for i := 0; i < 2; i++ {
		if err := client.Authenticate(context.Background()); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
	}
	if got := rs.tokenCalls.Load(); got != 2 {
		t.Fatalf("expected token refresh inside the margin, got %d exchanges", got)
	}
}

func TestTokenExchangeSendsRawBasicCredentials(t *testing.T) {
	var gotHeader, gotForm string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		gotForm = r.PostForm.Encode()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	cache := NewTokenCache(srv.URL, "client id", "s3cr+t/=", nil)
	tok, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok != "tok" {
		t.Fatalf("token = %q, want tok", tok)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("client id:s3cr+t/="))
	if gotHeader != want {
		t.Fatalf("authorization = %q, want %q", gotHeader, want)
	}
	if gotForm != "grant_type=client_credentials" {
		t.Fatalf("token form = %q, want only the grant type", gotForm)
	}
}

func TestMissingCredentialsIsConfigurationError(t *testing.T) {
	rs := newRegistryServer(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Errorf("registry must not be called without credentials")
	})
	client := rs.client("")

	_, err := client.ListCompanies(context.Background(), 0, 10)
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if rs.tokenCalls.Load() != 0 {
		t.Fatalf("expected no token exchange")
	}
}

func TestTokenEndpointFailureIsUpstreamAuthError(t *testing.T) {
	rs := newRegistryServer(t, func(w http.ResponseWriter, _ *http.Request) {})
	rs.tokenStatus = http.StatusUnauthorized
	client := rs.client("client")

	err := client.Authenticate(context.Background())
	if !domain.IsKind(err, domain.ErrUpstreamAuth) {
		t.Fatalf("expected upstream auth error, got %v", err)
	}
}

func TestNon2xxIsUpstreamRequestError(t *testing.T) {
	rs := newRegistryServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "subjekt ne postoji", http.StatusNotFound)
	})
	client := rs.client("client")

	_, err := client.GetCompanyDetail(context.Background(), "080000001")
	var statusErr *domain.UpstreamRequestError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected upstream request error, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound || statusErr.Endpoint != "/detalji_subjekta" {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
	if !domain.IsKind(err, domain.ErrUpstreamRequest) {
		t.Fatalf("expected error kind upstream request")
	}
}

func TestGetCompanyDetailRequestsExpandedRelations(t *testing.T) {
	rs := newRegistryServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("tipIdentifikatora") != "mbs" || q.Get("identifikator") != "080000001" || q.Get("expand_relations") != "true" {
			t.Errorf("unexpected detail query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"subjekt":{"mbs":"080000001"}}`))
	})
	client := rs.client("client")

	doc, err := client.GetCompanyDetail(context.Background(), "080000001")
	if err != nil {
		t.Fatalf("GetCompanyDetail() error = %v", err)
	}
	if got := doc.At("subjekt", "mbs").Text(); got != "080000001" {
		t.Fatalf("expected envelope to be preserved, got %q", got)
	}
}

func TestUnauthorizedResponseDropsCachedToken(t *testing.T) {
	var calls atomic.Int32
	rs := newRegistryServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	client := rs.client("client")

	if _, err := client.ListClassifications(context.Background()); err == nil {
		t.Fatalf("expected first call to fail")
	}
	if _, err := client.ListClassifications(context.Background()); err != nil {
		t.Fatalf("ListClassifications() error = %v", err)
	}
	if got := rs.tokenCalls.Load(); got != 2 {
		t.Fatalf("expected token re-exchange after 401, got %d", got)
	}
}

func TestMalformedBodyReadsAsEmptyList(t *testing.T) {
	rs := newRegistryServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})
	client := rs.client("client")

	records, err := client.ListClassifications(context.Background())
	if err != nil {
		t.Fatalf("ListClassifications() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestRegistryErrorClassification(t *testing.T) {
	err := wrapRegistryError(operationList, errors.New("dial tcp: connection refused"))
	if !domain.IsKind(err, domain.ErrUpstreamRequest) {
		t.Fatalf("expected generic failure as upstream request, got %v", err)
	}
	if class := classifyRegistryError(&domain.UpstreamRequestError{StatusCode: http.StatusServiceUnavailable}); !class.RecordFailure {
		t.Fatalf("expected 503 to count against the breaker")
	}
	if class := classifyRegistryError(&domain.UpstreamRequestError{StatusCode: http.StatusNotFound}); class.RecordFailure {
		t.Fatalf("expected 404 not to count against the breaker")
	}
}

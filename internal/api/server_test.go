package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-manager/internal/clock/system"
	"github.com/JakeFAU/crawler-manager/internal/config"
	"github.com/JakeFAU/crawler-manager/internal/crawler"
	"github.com/JakeFAU/crawler-manager/internal/crawler/crawlertest"
	"github.com/JakeFAU/crawler-manager/internal/lifecycle"
	pubmemory "github.com/JakeFAU/crawler-manager/internal/publisher/memory"
	"github.com/JakeFAU/crawler-manager/internal/storage/memory"
)

var fixedNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	server *Server
	pub    *pubmemory.Publisher
}

func newTestEnv(t *testing.T, cfg config.Config) testEnv {
	t.Helper()
	if cfg.Server.RequestTimeoutSeconds == 0 {
		cfg.Server.RequestTimeoutSeconds = 5
	}
	clk := system.NewManual(fixedNow)
	pub := pubmemory.New()
	svc := lifecycle.New(memory.NewRepository(), pub, &fakeIDGen{ids: []string{"generated-1", "generated-2"}}, clk,
		lifecycle.Config{}, zap.NewNop())
	return testEnv{server: NewServer(svc, clk, cfg, zap.NewNop()), pub: pub}
}

func (e testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func validBody(id string) map[string]any {
	body := map[string]any{"name": "Test Crawler", "config": crawlertest.ValidConfig()}
	if id != "" {
		body["id"] = id
	}
	return body
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_CreateAndGet(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(t, http.MethodPost, "/crawlers", validBody(""))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "/crawlers/generated-1", rec.Header().Get("Location"))

	created := decode[crawlerResponse](t, rec)
	require.Equal(t, "generated-1", created.ID)
	require.Equal(t, "Test Crawler", created.Name)
	require.Equal(t, crawler.StatusCreated, created.Status)
	require.Equal(t, crawlertest.ValidConfig(), created.Config)
	require.True(t, fixedNow.Equal(created.CreatedAt))
	require.NotContains(t, rec.Body.String(), "version")

	rec = env.do(t, http.MethodGet, "/crawlers/generated-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, created, decode[crawlerResponse](t, rec))
}

func TestServer_CreateDuplicateID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(t, http.MethodPost, "/crawlers", validBody("client-id"))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "client-id", decode[crawlerResponse](t, rec).ID)

	dup := validBody("client-id")
	dup["name"] = "Other"
	rec = env.do(t, http.MethodPost, "/crawlers", dup)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[apiError](t, rec)
	require.Equal(t, http.StatusConflict, body.Status)
	require.Equal(t, "Crawler with id client-id already exists", body.Message)

	rec = env.do(t, http.MethodGet, "/crawlers/client-id", nil)
	require.Equal(t, "Test Crawler", decode[crawlerResponse](t, rec).Name)
}

func TestServer_CreateValidationFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	cfg := crawlertest.ValidConfig()
	cfg.RequestOptions.Proxy.Port = 70000
	rec := env.do(t, http.MethodPost, "/crawlers", map[string]any{"name": " ", "config": cfg})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[apiError](t, rec)
	require.Equal(t, http.StatusBadRequest, body.Status)
	require.Equal(t, validationMessage, body.Message)
	require.True(t, fixedNow.Equal(body.Timestamp))
	require.Len(t, body.Causes, 2)
	require.Equal(t, "name", body.Causes[0].Field)
	require.Equal(t, crawler.MsgNameBlank, body.Causes[0].Message)
	require.Equal(t, "config.requestOptions.proxy.port", body.Causes[1].Field)
	require.Equal(t, float64(70000), body.Causes[1].RejectedValue)
	require.Equal(t, crawler.MsgProxyPortRange, body.Causes[1].Message)

	rec = env.do(t, http.MethodGet, "/crawlers", nil)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestServer_CreateMissingConfig(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(t, http.MethodPost, "/crawlers", `{"name":"Test Crawler"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[apiError](t, rec)
	require.Len(t, body.Causes, 1)
	require.Equal(t, crawler.MsgConfigNull, body.Causes[0].Message)
}

func TestServer_CreateMalformedJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	for _, payload := range []string{
		`{"name":`,
		`{"name":"x","config":{"actions":[{"fileTypesToMatch":["EXE"]}]}}`,
		`{"name":"x","config":{"requestOptions":{"proxy":"no-port"}}}`,
	} {
		rec := env.do(t, http.MethodPost, "/crawlers", payload)
		require.Equal(t, http.StatusBadRequest, rec.Code, payload)
		require.Contains(t, decode[apiError](t, rec).Message, "Malformed JSON request")
	}
}

func TestServer_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	requests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/crawlers/nope", nil},
		{http.MethodPut, "/crawlers/nope", validBody("")},
		{http.MethodPut, "/crawlers/nope/start", nil},
		{http.MethodPut, "/crawlers/nope/run", nil},
		{http.MethodPut, "/crawlers/nope/stop", nil},
		{http.MethodPut, "/crawlers/nope/pause", nil},
		{http.MethodGet, "/crawlers/nope/status", nil},
	}
	for _, tc := range requests {
		rec := env.do(t, tc.method, tc.path, tc.body)
		require.Equal(t, http.StatusNotFound, rec.Code, tc.method+" "+tc.path)
		require.Equal(t, "Crawler with id nope not found", decode[apiError](t, rec).Message)
	}

	rec := env.do(t, http.MethodDelete, "/crawlers/nope", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, env.pub.Messages())
}

func TestServer_UpdateStartStopStatusDelete(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(t, http.MethodPost, "/crawlers", validBody("c-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPut, "/crawlers/c-1", map[string]any{
		"name":   "Renamed",
		"config": crawlertest.UpdatedConfig(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[crawlerResponse](t, rec)
	require.Equal(t, "Renamed", updated.Name)
	require.Equal(t, crawlertest.UpdatedConfig(), updated.Config)
	require.Equal(t, crawler.StatusCreated, updated.Status)
	require.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	rec = env.do(t, http.MethodPut, "/crawlers/c-1/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, crawler.StatusStarted, decode[crawlerResponse](t, rec).Status)

	msgs := env.pub.Messages()
	require.Len(t, msgs, 3)
	first := msgs[0].Payload.(crawler.AddressSuppliedMessage)
	require.Equal(t, "c-1", first.CrawlerID)
	require.Equal(t, "https://www.google.com", first.Address)

	rec = env.do(t, http.MethodGet, "/crawlers/c-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"STARTED"}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/crawlers/c-1/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, crawler.StatusStopped, decode[crawlerResponse](t, rec).Status)
	require.Len(t, env.pub.Messages(), 3)

	rec = env.do(t, http.MethodPut, "/crawlers/c-1/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.pub.Messages(), 6)

	rec = env.do(t, http.MethodPut, "/crawlers/c-1/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/crawlers/c-1/status", nil)
	require.JSONEq(t, `{"status":"STOPPED"}`, rec.Body.String())

	rec = env.do(t, http.MethodDelete, "/crawlers/c-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())
	rec = env.do(t, http.MethodGet, "/crawlers/c-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_UpdateValidationFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/crawlers", validBody("c-1")).Code)

	cfg := crawlertest.ValidConfig()
	cfg.Actions = nil
	rec := env.do(t, http.MethodPut, "/crawlers/c-1", map[string]any{"name": "Test Crawler", "config": cfg})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[apiError](t, rec)
	require.Len(t, body.Causes, 1)
	require.Equal(t, "config.actions", body.Causes[0].Field)
	require.Equal(t, crawler.MsgActionsNull, body.Causes[0].Message)
}

func TestServer_List(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/crawlers", validBody("")).Code)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/crawlers", validBody("")).Code)

	rec := env.do(t, http.MethodGet, "/crawlers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]crawlerResponse](t, rec)
	ids := []string{list[0].ID, list[1].ID}
	require.ElementsMatch(t, []string{"generated-1", "generated-2"}, ids)
}

// stubService fails every call with err.
type stubService struct {
	CrawlerService
	err error
}

func (s stubService) List(context.Context) ([]crawler.Record, error) { return nil, s.err }

func (s stubService) Update(context.Context, string, string, crawler.Config) (crawler.Record, error) {
	return crawler.Record{}, s.err
}

func TestServer_ServiceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"internal", errors.New("connection reset"), http.StatusInternalServerError},
		{"conflict", fmt.Errorf("update crawler c-1: %w", crawler.ErrVersionConflict), http.StatusConflict},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := NewServer(stubService{err: tc.err}, nil, config.Config{}, zap.NewNop())
			body, err := json.Marshal(validBody(""))
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/crawlers/c-1", bytes.NewReader(body)))
			require.Equal(t, tc.code, rec.Code)
			require.Equal(t, tc.code, decode[apiError](t, rec).Status)

			rec = httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/crawlers", nil))
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	ready := true
	check := func(context.Context) error {
		if !ready {
			return errors.New("database down")
		}
		return nil
	}
	server := NewServer(stubService{}, nil, config.Config{}, zap.NewNop(), check)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	ready = false
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	rec := env.do(t, http.MethodGet, "/crawlers", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "unauthorized", decode[apiError](t, rec).Message)

	req := httptest.NewRequest(http.MethodGet, "/crawlers", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/crawlers?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, wrong := range []string{"secre", "secret2", "SECRET"} {
		rec = env.do(t, http.MethodGet, "/crawlers?api_key="+wrong, nil)
		require.Equal(t, http.StatusForbidden, rec.Code, wrong)
	}

	rec = env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RateLimitMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Server: config.ServerConfig{RateLimitRPS: 0.001, RateLimitBurst: 2}})

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/crawlers", nil).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/crawlers", nil).Code)
	rec := env.do(t, http.MethodGet, "/crawlers", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.Equal(t, "too many requests", decode[apiError](t, rec).Message)

	req := httptest.NewRequest(http.MethodGet, "/crawlers", nil)
	req.Header.Set("X-API-Key", "other-client")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

type panicService struct {
	CrawlerService
}

func (panicService) Get(context.Context, string) (crawler.Record, error) {
	panic("boom")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(panicService{}, nil, config.Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/crawlers/x", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeIDGen struct {
	ids []string
	n   int
}

func (f *fakeIDGen) NewID() (string, error) {
	if f.n >= len(f.ids) {
		return "id-default", nil
	}
	id := f.ids[f.n]
	f.n++
	return id, nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

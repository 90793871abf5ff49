package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/repository/sqlite"
	trackingsvc "github.com/ignite/mailtrack/internal/service/tracking"
)

const testBaseURL = "http://track.test"

type testServer struct {
	store  *sqlite.Store
	router http.Handler
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	store, err := sqlite.Open(context.Background(), sqlite.Options{
		Path:         filepath.Join(t.TempDir(), "tracking.db"),
		WriteTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec := trackingsvc.NewRecorder(store, testBaseURL)
	agg := trackingsvc.NewAggregator(store, nil)
	return &testServer{store: store, router: NewHandler(rec, agg, store, opts...).Routes()}
}

func (s *testServer) do(t *testing.T, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		require.NoError(t, json.NewEncoder(buf).Encode(body))
		rdr = buf
	}
	req := httptest.NewRequest(method, target, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createEmail(t *testing.T, tenant string) trackingsvc.Registration {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/"+tenant+"/emails", map[string]string{"subject": "Hello", "recipient": "bob@example.com"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var reg trackingsvc.Registration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	return reg
}

func (s *testServer) events(t *testing.T, tenant string) []domain.Event {
	t.Helper()
	var out []domain.Event
	for evt, err := range s.store.ListEvents(context.Background(), tenant) {
		require.NoError(t, err)
		out = append(out, evt)
	}
	return out
}

func (s *testServer) summary(t *testing.T, tenant string) trackingsvc.Summary {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/"+tenant+"/dashboard", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sum trackingsvc.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	return sum
}

func TestCreateEmail_ReturnsPixelURL(t *testing.T) {
	s := newTestServer(t)

	reg := s.createEmail(t, "acme")
	assert.Equal(t, int64(1), reg.EmailID)
	assert.Equal(t, "http://track.test/acme/pixel/1.gif", reg.TrackingPixelURL)
}

func TestCreateEmail_EmptyBody(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/acme/emails", nil, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateEmail_MalformedJSON(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/acme/emails", strings.NewReader("{oops"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpen_ServesPixelAndRecords(t *testing.T) {
	s := newTestServer(t)
	s.createEmail(t, "acme")

	rec := s.do(t, http.MethodGet, "/acme/pixel/1.gif", nil, map[string]string{
		"User-Agent":      "Mozilla/5.0",
		"X-Forwarded-For": "203.0.113.5, 10.0.0.1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store, no-cache, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, pixelGIF, rec.Body.Bytes())

	events := s.events(t, "acme")
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOpen, events[0].Type)
	assert.Equal(t, "203.0.113.5", *events[0].IPAddress)
	assert.Equal(t, "Mozilla/5.0", *events[0].UserAgent)
}

func TestOpen_WithoutGifSuffix(t *testing.T) {
	s := newTestServer(t)
	s.createEmail(t, "acme")

	rec := s.do(t, http.MethodGet, "/acme/pixel/1", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, s.events(t, "acme"), 1)
}

func TestOpen_InvalidOrForeignIDStillServesPixel(t *testing.T) {
	s := newTestServer(t)
	s.createEmail(t, "acme")

	for _, path := range []string{"/acme/pixel/not-a-number.gif", "/acme/pixel/99.gif", "/globex/pixel/1.gif"} {
		rec := s.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, pixelGIF, rec.Body.Bytes(), path)
	}
	assert.Empty(t, s.events(t, "acme"))
	assert.Empty(t, s.events(t, "globex"))
}

func TestClick_RedirectsToDecodedURL(t *testing.T) {
	s := newTestServer(t)
	s.createEmail(t, "acme")

	rec := s.do(t, http.MethodGet, "/acme/click/1?url=https%3A%2F%2Fexample.com", nil, nil)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Location"))

	events := s.events(t, "acme")
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventClick, events[0].Type)
	assert.Equal(t, "https://example.com", *events[0].URL)
}

func TestClick_EncodedQueryStringSurvives(t *testing.T) {
	s := newTestServer(t)
	s.createEmail(t, "acme")

	rec := s.do(t, http.MethodGet, "/acme/click-url/1?url="+
		"https%3A%2F%2Fexample.com%2Fp%3Fa%3D1%26b%3D2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var link trackingsvc.ClickLink
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))
	assert.Equal(t, "https://example.com/p?a=1&b=2", link.OriginalURL)

	click := s.do(t, http.MethodGet, strings.TrimPrefix(link.ClickURL, testBaseURL), nil, nil)
	assert.Equal(t, http.StatusTemporaryRedirect, click.Code)
	assert.Equal(t, "https://example.com/p?a=1&b=2", click.Header().Get("Location"))
}

func TestClick_Errors(t *testing.T) {
	s := newTestServer(t)
	s.createEmail(t, "acme")

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing url", "/acme/click/1", http.StatusBadRequest},
		{"javascript url", "/acme/click/1?url=javascript%3Aalert(1)", http.StatusBadRequest},
		{"bad email id", "/acme/click/abc?url=https%3A%2F%2Fexample.com", http.StatusBadRequest},
		{"unknown email", "/acme/click/42?url=https%3A%2F%2Fexample.com", http.StatusNotFound},
		{"other tenant", "/globex/click/1?url=https%3A%2F%2Fexample.com", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tt.path, nil, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Empty(t, s.events(t, "acme"))
}

func TestClickURL_Errors(t *testing.T) {
	s := newTestServer(t)
	s.createEmail(t, "acme")

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/acme/click-url/1", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/globex/click-url/1?url=https%3A%2F%2Fx.io", nil, nil).Code)
}

func TestDashboard_CountsAndIsolation(t *testing.T) {
	s := newTestServer(t)
	s.createEmail(t, "acme")
	s.createEmail(t, "acme")
	s.createEmail(t, "globex")

	s.do(t, http.MethodGet, "/acme/pixel/1.gif", nil, nil)
	s.do(t, http.MethodGet, "/acme/pixel/1.gif", nil, nil)
	s.do(t, http.MethodGet, "/acme/pixel/1.gif", nil, nil)
	s.do(t, http.MethodGet, "/acme/click/2?url=https%3A%2F%2Fexample.com", nil, nil)
	s.do(t, http.MethodGet, "/globex/pixel/3.gif", nil, nil)

	acme := s.summary(t, "acme")
	assert.Equal(t, 2, acme.TotalEmails)
	assert.Equal(t, 3, acme.TotalOpens)
	assert.Equal(t, 1, acme.UniqueOpens)
	assert.Equal(t, 1, acme.TotalClicks)
	assert.Len(t, acme.RecentEvents, 4)

	globex := s.summary(t, "globex")
	assert.Equal(t, 1, globex.TotalEmails)
	assert.Equal(t, 1, globex.TotalOpens)
	assert.Equal(t, 0, globex.TotalClicks)

	empty := s.summary(t, "nobody")
	assert.Equal(t, 0, empty.TotalEmails)
}

func TestDashboard_BadGranularity(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/acme/dashboard?granularity=fortnight", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmailEvents(t *testing.T) {
	s := newTestServer(t)
	s.createEmail(t, "acme")
	s.do(t, http.MethodGet, "/acme/pixel/1.gif", nil, nil)

	rec := s.do(t, http.MethodGet, "/acme/emails/1/events", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp emailEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 1)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/globex/emails/1/events", nil, nil).Code)
}

func TestCreateTenant(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/tenants", map[string]string{"id": "acme", "name": "Acme"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var tenant domain.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tenant))
	assert.Equal(t, "acme", tenant.ID)
	assert.Equal(t, "Acme", tenant.Name)

	rec = s.do(t, http.MethodPost, "/tenants", map[string]string{"name": "Generated"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tenant))
	assert.NotEmpty(t, tenant.ID)
}

type stubHealth struct{ err error }

func (s stubHealth) Healthy(context.Context) error { return s.err }

func TestHealth(t *testing.T) {
	s := newTestServer(t, WithVersion("1.2.3"))

	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)

	h := NewHandler(nil, nil, stubHealth{err: errors.New("corrupt")})
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWriteError_BusySetsRetryAfter(t *testing.T) {
	h := NewHandler(nil, nil, stubHealth{}, WithRetryAfter(3*time.Second))

	rec := httptest.NewRecorder()
	h.writeError(rec, trackingsvc.ErrStoreBusy)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	h.writeError(rec, trackingsvc.ErrStoreCorrupt)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t, WithAllowedOrigins([]string{"https://dash.example.com"}))

	req := httptest.NewRequest(http.MethodOptions, "/acme/dashboard", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4567"
	assert.Equal(t, "192.0.2.1", realIP(req))

	req.Header.Set("X-Real-Ip", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", realIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", realIP(req))
}

func TestRawQueryValue(t *testing.T) {
	assert.Equal(t, "https%3A%2F%2Fx.io", rawQueryValue("a=1&url=https%3A%2F%2Fx.io", "url"))
	assert.Equal(t, "", rawQueryValue("a=1", "url"))
	assert.Equal(t, "", rawQueryValue("", "url"))
}

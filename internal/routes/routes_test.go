package routes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/pixaccess/internal/config"
	"github.com/example/pixaccess/internal/database"
)

// fakeMercadoPago serves /v1/payments and lets tests approve payments.
type fakeMercadoPago struct {
	mu       sync.Mutex
	next     int
	payments map[string]map[string]any
}

func (m *fakeMercadoPago) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/payments":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		m.next++
		id := fmt.Sprintf("%d", 5000+m.next)
		m.payments[id] = map[string]any{"id": id, "status": "pending", "metadata": body["metadata"]}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     json.Number(id),
			"status": "pending",
			"point_of_interaction": map[string]any{
				"transaction_data": map[string]any{"qr_code": "pix-code", "qr_code_base64": "aW1n"},
			},
		})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/payments/"):
		p, ok := m.payments[strings.TrimPrefix(r.URL.Path, "/v1/payments/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(p)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *fakeMercadoPago) approve(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[id]["status"] = "approved"
}

type testServer struct {
	app      *fiber.App
	mp       *fakeMercadoPago
	messages *atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "app.db")+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	mp := &fakeMercadoPago{payments: make(map[string]map[string]any)}
	mpServer := httptest.NewServer(mp)
	t.Cleanup(mpServer.Close)

	messages := &atomic.Int32{}
	waServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		messages.Add(1)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid"}]}`))
	}))
	t.Cleanup(waServer.Close)

	contentPath := filepath.Join(dir, "ebook.html")
	require.NoError(t, os.WriteFile(contentPath, []byte("<html><head><title>E-book</title></head><body>conteúdo</body></html>"), 0o600))

	cfg := &config.Config{
		SessionSecret:          "route-secret",
		SessionTTL:             720 * time.Hour,
		SessionCookieName:      "session",
		PublicBaseURL:          "https://loja.example.com",
		ProductPrice:           decimal.RequireFromString("97"),
		ProductDescription:     "E-book",
		PayerEmail:             "comprador@example.com",
		ContentPath:            contentPath,
		MercadoPagoAccessToken: "APP_USR-test",
		MercadoPagoBaseURL:     mpServer.URL,
		WhatsAppToken:          "wa",
		WhatsAppPhoneNumberID:  "123",
		WhatsAppAPIVersion:     "v22.0",
		WhatsAppBaseURL:        waServer.URL,
		HTTPClientTimeout:      2 * time.Second,
		RateLimitRPS:           100,
		RateLimitBurst:         100,
	}

	app := fiber.New()
	Register(app, Dependencies{
		DB:       db,
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Logger:   zerolog.Nop(),
	})
	return &testServer{app: app, mp: mp, messages: messages}
}

func (s *testServer) do(t *testing.T, method, target, body, cookie string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp, decoded
}

func sessionCookie(t *testing.T, resp *http.Response) string {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == "session" && c.Value != "" {
			return "session=" + c.Value
		}
	}
	t.Fatal("session cookie not set")
	return ""
}

func TestPurchaseFlowEndToEnd(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/api/create_purchase", `{"phone":"(11) 98765-4321","password":"segredo123"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["token"].(string)
	paymentID := body["mp_payment_id"].(string)
	assert.Equal(t, "https://loja.example.com/a/"+token, body["access_link"])
	assert.Equal(t, "pix-code", body["pix"].(map[string]any)["qr_code"])
	cookie := sessionCookie(t, resp)

	_, body = s.do(t, http.MethodGet, "/api/check_purchase?token="+token, "", "")
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, paymentID, body["mp_payment_id"])

	resp, _ = s.do(t, http.MethodGet, "/api/content?token="+token, "", "")
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	s.mp.approve(paymentID)
	webhook := fmt.Sprintf(`{"type":"payment","data":{"id":"%s"}}`, paymentID)
	resp, body = s.do(t, http.MethodPost, "/api/mp_webhook", webhook, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, int32(1), s.messages.Load())

	resp, _ = s.do(t, http.MethodPost, "/api/mp_webhook", webhook, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), s.messages.Load(), "redelivered webhook must not notify again")

	_, body = s.do(t, http.MethodGet, "/api/check_purchase?token="+token, "", "")
	assert.Equal(t, "paid", body["status"])
	assert.NotNil(t, body["delivered_at"])

	req := httptest.NewRequest(http.MethodGet, "/api/content?token="+token, nil)
	contentResp, err := s.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, contentResp.StatusCode)
	html, _ := io.ReadAll(contentResp.Body)
	assert.Contains(t, string(html), `<base href="/" />`)
	assert.Contains(t, string(html), "conteúdo")

	resp, _ = s.do(t, http.MethodGet, "/api/content", "", cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = s.do(t, http.MethodGet, "/api/my_access", "", cookie)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, token, items[0].(map[string]any)["token"])
}

func TestCreatePurchaseErrors(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/api/create_purchase", `{"phone":"123","password":"segredo123"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "phone_invalid", body["error"])

	resp, body = s.do(t, http.MethodPost, "/api/create_purchase", `{"phone":"11987654321","password":"123"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "password_invalid", body["error"])

	resp, body = s.do(t, http.MethodPost, "/api/create_purchase", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "phone_invalid", body["error"])

	resp, _ = s.do(t, http.MethodPost, "/api/create_purchase", `{"phone":"11987654321","password":"segredo123"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/create_purchase", `{"phone":"11987654321","password":"outrasenha"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_login", body["error"])
}

func TestCheckPurchaseMissingAndUnknown(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/api/check_purchase", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing_token", body["error"])

	resp, body = s.do(t, http.MethodGet, "/api/check_purchase?token=nope", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "not_found", body["status"])
}

func TestWebhookAcknowledgesEverythingButMalformedJSON(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/api/mp_webhook", `{"data":`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	for _, body := range []string{`{}`, `{"data":{"id":"does-not-exist"}}`, `{"id":42}`} {
		resp, decoded := s.do(t, http.MethodPost, "/api/mp_webhook", body, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, body)
		assert.Equal(t, true, decoded["ok"], body)
	}
	assert.Zero(t, s.messages.Load())
}

func TestLoginLogout(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/api/create_purchase", `{"phone":"11987654321","password":"segredo123"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/api/login", `{"phone":"+55 11 98765-4321","password":"segredo123"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	cookie := sessionCookie(t, resp)

	resp, body = s.do(t, http.MethodGet, "/api/my_access", "", cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["items"])

	resp, body = s.do(t, http.MethodPost, "/api/login", `{"phone":"11987654321","password":"errada123"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_login", body["error"])

	resp, _ = s.do(t, http.MethodPost, "/api/logout", "", cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Set-Cookie"), "session=;")

	resp, _ = s.do(t, http.MethodGet, "/api/my_access", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/my_access", "", cookie+"x")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/content", "", cookie)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestAccessLinkRedirectsAndOperationalRoutes(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodGet, "/a/abc-123", "", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/api/content?token=abc-123", resp.Header.Get("Location"))

	resp, body := s.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	s.do(t, http.MethodPost, "/api/mp_webhook", `{}`, "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsResp, err := s.app.Test(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(metricsResp.Body)
	assert.Contains(t, string(raw), `webhook_events_total{outcome="ignored"} 1`)
}

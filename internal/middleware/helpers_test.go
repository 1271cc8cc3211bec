package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/authservice/internal/token"
)

const testUserID = "8f14e45f-ceea-467f-a0e6-1f5b4d3c2a10"

// scopedPrincipal はセッションスコープを持つ認証主体を生成する。
func scopedPrincipal(userID, deviceID string, sv int) *Principal {
	claims := &token.Claims{
		Email:          "alice@example.com",
		DeviceID:       deviceID,
		SessionVersion: token.NewVersion(sv),
	}
	claims.Subject = userID
	return &Principal{
		UserID:   userID,
		Email:    claims.Email,
		DeviceID: deviceID,
		Claims:   claims,
	}
}

func requestWithPrincipal(method, path string, p *Principal) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if p != nil {
		req = req.WithContext(ContextWithPrincipal(req.Context(), p))
	}
	return req
}

// recordingHandler は呼び出し有無を記録するハンドラー。
type recordingHandler struct {
	called bool
	req    *http.Request
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.req = r
	w.WriteHeader(http.StatusOK)
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v (raw %q)", err, rec.Body.String())
	}
	return body
}

func assertUnauthorized(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	body := decodeErrorBody(t, rec)
	if body.Error != "Session expired or invalid" {
		t.Errorf("error = %q, want %q", body.Error, "Session expired or invalid")
	}
	if body.Code != "UNAUTHORIZED" {
		t.Errorf("code = %q, want %q", body.Code, "UNAUTHORIZED")
	}
}

// fakeCollector はメトリクス呼び出しを記録するMetricsCollector。
type fakeCollector struct {
	mu         sync.Mutex
	rejections []string
	lookups    int
	statuses   []int
}

func (c *fakeCollector) RecordLogin(string)         {}
func (c *fakeCollector) RecordTokenIssued()         {}
func (c *fakeCollector) RecordLogout(string, int64) {}

func (c *fakeCollector) RecordGuardRejection(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejections = append(c.rejections, reason)
}

func (c *fakeCollector) RecordGuardLookup(time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
}

func (c *fakeCollector) RecordHTTPStatus(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, code)
}

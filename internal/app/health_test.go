package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv()

	rr := env.serve(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	env := newTestEnv()

	rr := env.serve(httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", response["status"])
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	env := newTestEnv()
	env.store.pingFn = func(context.Context) error {
		return errors.New("connection refused")
	}

	rr := env.serve(httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	checks := response["checks"].(map[string]any)
	database := checks["database"].(map[string]any)
	if database["error"] != "connection refused" {
		t.Errorf("expected database error, got %v", database["error"])
	}
}

func TestOptionsReturnsOKWithoutBody(t *testing.T) {
	env := newTestEnv()

	for _, path := range []string{"/api/public/quote", "/api/booking-submissions", "/api/anything"} {
		rr := env.serve(httptest.NewRequest(http.MethodOptions, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rr.Code)
		}
		if rr.Body.Len() != 0 {
			t.Errorf("%s: expected empty body, got %q", path, rr.Body.String())
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("%s: missing CORS origin", path)
		}
	}
}

func TestCORSHeadersFollowConfiguredOrigin(t *testing.T) {
	env := newTestEnv()
	server := NewHTTPServer(env.svc, "https://acme.example.com")

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://acme.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
}

func TestWrongMethodOnKnownPathIs405(t *testing.T) {
	env := newTestEnv()
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/booking-submissions"},
		{http.MethodPost, "/api/public/quote"},
		{http.MethodGet, "/api/public/change-order-response"},
		{http.MethodPut, "/api/portal/sessions"},
		{http.MethodGet, "/api/staff/emails"},
	}
	for _, tc := range cases {
		rr := env.serve(httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}")))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tc.method, tc.path, rr.Code)
			continue
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["error"] != "Method not allowed" {
			t.Errorf("%s %s: error = %v", tc.method, tc.path, body["error"])
		}
	}
}

func TestUnknownPathIs404(t *testing.T) {
	env := newTestEnv()
	rr := env.serve(httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestStaffRoutesRequireBearer(t *testing.T) {
	env := newTestEnv()
	for _, path := range []string{"/api/staff/quotes/send-email", "/api/staff/invoices/send-email", "/api/staff/emails"} {
		rr := env.serve(httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/staff/search?q=deck", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	if rr := env.serve(req); rr.Code != http.StatusUnauthorized {
		t.Errorf("search with bad bearer: expected 401, got %d", rr.Code)
	}
}

func TestPingMethod(t *testing.T) {
	env := newTestEnv()
	if err := env.svc.Ping(context.Background()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	env.store.pingFn = func(context.Context) error { return errors.New("down") }
	if err := env.svc.Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	for header, want := range map[string]string{
		"X-Content-Type-Options":     "nosniff",
		"X-Frame-Options":            "DENY",
		"Referrer-Policy":            "no-referrer",
		"Cross-Origin-Opener-Policy": "same-origin",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("expected %s=%s, got %q", header, want, got)
		}
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	oversized := strings.NewReader(`{"username":"` + strings.Repeat("a", maxRequestBodyBytes+1) + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", oversized)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}

func TestWritesWithoutCSRFTokenRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/customers", strings.NewReader(`{"name":"Dina"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCSRFTokenFromPreviousHourStillValid(t *testing.T) {
	api := newTestAPI(t)

	previous := api.csrfToken(time.Now().UTC().Add(-time.Hour))
	if !api.validCSRFToken(previous) {
		t.Fatalf("expected previous-hour token to validate")
	}

	stale := api.csrfToken(time.Now().UTC().Add(-3 * time.Hour))
	if api.validCSRFToken(stale) {
		t.Fatalf("expected three-hour-old token to be rejected")
	}
}

func TestParsePositiveLimit(t *testing.T) {
	if limit, err := parsePositiveLimit("", 50); err != nil || limit != 50 {
		t.Fatalf("expected fallback 50, got %d err %v", limit, err)
	}
	if limit, err := parsePositiveLimit("25", 50); err != nil || limit != 25 {
		t.Fatalf("expected 25, got %d err %v", limit, err)
	}
	if _, err := parsePositiveLimit("0", 50); err == nil {
		t.Fatalf("expected zero limit to be rejected")
	}
	if _, err := parsePositiveLimit("abc", 50); err == nil {
		t.Fatalf("expected non-numeric limit to be rejected")
	}
}

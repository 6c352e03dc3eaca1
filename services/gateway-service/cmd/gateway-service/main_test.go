package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcodenti/gymbook/libs/auth"
	"golang.org/x/crypto/bcrypt"
)

func TestRequireRole(t *testing.T) {
	h := requireRole(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), "admin", "staff")

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("X-Role", "client")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rw.Code)
	}

	reqOK := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqOK.Header.Set("X-Role", "admin")
	rwOK := httptest.NewRecorder()
	h.ServeHTTP(rwOK, reqOK)
	if rwOK.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rwOK.Code)
	}
}

func TestRequireAuthHS256(t *testing.T) {
	cfg := authConfig{jwtSecret: "test-secret"}
	claims := auth.Claims{
		Sub:      "user-1",
		ClientID: "client-1",
		Role:     "client",
		Iat:      time.Now().Unix(),
		Exp:      time.Now().Add(1 * time.Hour).Unix(),
	}
	token, err := auth.SignHS256(claims, cfg.jwtSecret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	h := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-Id") != claims.Sub {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Client-Id") != claims.ClientID {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Role") != claims.Role {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}

	reqBad := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqBad.Header.Set("Authorization", "Bearer badtoken")
	rwBad := httptest.NewRecorder()
	h.ServeHTTP(rwBad, reqBad)
	if rwBad.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rwBad.Code)
	}
}

func TestRequireAuthStripsSpoofedHeaders(t *testing.T) {
	cfg := authConfig{jwtSecret: "test-secret"}
	token, err := auth.SignHS256(auth.Claims{
		Sub:  "user-1",
		Role: "client",
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(time.Hour).Unix(),
	}, cfg.jwtSecret)
	if err != nil {
		t.Fatal(err)
	}

	h := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Role") != "client" || r.Header.Get("X-Client-Id") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Role", "admin")
	req.Header.Set("X-Client-Id", "someone-else")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("spoofed headers survived: %d", rw.Code)
	}
}

func TestPublicSlotsRouteScrubsIdentity(t *testing.T) {
	var gotRole, gotClient, gotUser string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRole = r.Header.Get("X-Role")
		gotClient = r.Header.Get("X-Client-Id")
		gotUser = r.Header.Get("X-User-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()
	t.Setenv("BOOKING_URL", backend.URL)

	mux := http.NewServeMux()
	registerRoutes(mux, authConfig{jwtSecret: "test-secret"})

	// An anonymous caller forging identity headers on the public route must
	// not reach the booking service with them intact.
	req := httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/slots", nil)
	req.Header.Set("X-Role", "admin")
	req.Header.Set("X-Client-Id", "someone-else")
	req.Header.Set("X-User-Id", "u-forged")
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if gotRole != "" || gotClient != "" || gotUser != "" {
		t.Fatalf("identity headers reached the backend: role=%q client=%q user=%q", gotRole, gotClient, gotUser)
	}
}

func TestRequireAuthAPIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("integration-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := authConfig{jwtSecret: "test-secret", apiKeyHash: string(hash)}

	h := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Role") != "staff" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("X-Api-Key", "integration-key")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("header key: expected 200, got %d", rw.Code)
	}

	reqQuery := httptest.NewRequest(http.MethodGet, "http://example.com/?key=integration-key", nil)
	rwQuery := httptest.NewRecorder()
	h.ServeHTTP(rwQuery, reqQuery)
	if rwQuery.Code != http.StatusOK {
		t.Fatalf("query key: expected 200, got %d", rwQuery.Code)
	}

	reqBad := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqBad.Header.Set("X-Api-Key", "wrong")
	rwBad := httptest.NewRecorder()
	h.ServeHTTP(rwBad, reqBad)
	if rwBad.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: expected 401, got %d", rwBad.Code)
	}
}

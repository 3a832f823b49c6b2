package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
)

func TestRequireRole(t *testing.T) {
	h := httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), RequireRole(RoleAdmin, RoleStaff))

	req := httptest.NewRequest(http.MethodPatch, "http://example.com", nil)
	req = req.WithContext(WithClaims(req.Context(), &Claims{Role: RoleDoctor}))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rw.Code)
	}

	reqOK := httptest.NewRequest(http.MethodPatch, "http://example.com", nil)
	reqOK = reqOK.WithContext(WithClaims(reqOK.Context(), &Claims{Role: RoleStaff}))
	rwOK := httptest.NewRecorder()
	h.ServeHTTP(rwOK, reqOK)
	if rwOK.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rwOK.Code)
	}

	rwAnon := httptest.NewRecorder()
	h.ServeHTTP(rwAnon, httptest.NewRequest(http.MethodPatch, "http://example.com", nil))
	if rwAnon.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without claims, got %d", rwAnon.Code)
	}
}

func TestRequireAuthHS256(t *testing.T) {
	secret := "test-secret"
	claims := Claims{
		Sub:      "user-1",
		ClinicID: "clinic-1",
		Role:     RoleAdmin,
		Iat:      time.Now().Unix(),
		Exp:      time.Now().Add(1 * time.Hour).Unix(),
	}
	token, err := SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	h := RequireAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := ClaimsFromContext(r.Context())
		if !ok || got.Sub != claims.Sub || got.Role != claims.Role {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}

	bad := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	bad.Header.Set("Authorization", "Bearer not-a-token")
	rwBad := httptest.NewRecorder()
	h.ServeHTTP(rwBad, bad)
	if rwBad.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rwBad.Code)
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireAdmin_AllowsAdminKey_BlocksPublicKey(t *testing.T) {
	keys := Keys{
		Public: []string{"pub_key"},
		Admin:  []string{"adm_key"},
	}

	// Admin key -> 200
	reqAdm := httptest.NewRequest(http.MethodPost, "/api/monitoring/start", nil)
	reqAdm.Header.Set("X-API-Key", "adm_key")
	recAdm := httptest.NewRecorder()
	RequireAdmin(keys)(okHandler).ServeHTTP(recAdm, reqAdm)
	if recAdm.Code != http.StatusOK {
		t.Fatalf("admin key should pass; got %d", recAdm.Code)
	}

	// Bearer form works too
	reqBearer := httptest.NewRequest(http.MethodPost, "/api/monitoring/start", nil)
	reqBearer.Header.Set("Authorization", "Bearer adm_key")
	recBearer := httptest.NewRecorder()
	RequireAdmin(keys)(okHandler).ServeHTTP(recBearer, reqBearer)
	if recBearer.Code != http.StatusOK {
		t.Fatalf("bearer admin key should pass; got %d", recBearer.Code)
	}

	// Public key -> 403
	reqPub := httptest.NewRequest(http.MethodPost, "/api/monitoring/start", nil)
	reqPub.Header.Set("X-API-Key", "pub_key")
	recPub := httptest.NewRecorder()
	RequireAdmin(keys)(okHandler).ServeHTTP(recPub, reqPub)
	if recPub.Code != http.StatusForbidden {
		t.Fatalf("public key should be forbidden; got %d", recPub.Code)
	}

	// Missing key -> 401
	reqNone := httptest.NewRequest(http.MethodPost, "/api/monitoring/start", nil)
	recNone := httptest.NewRecorder()
	RequireAdmin(keys)(okHandler).ServeHTTP(recNone, reqNone)
	if recNone.Code != http.StatusUnauthorized {
		t.Fatalf("missing key should be 401; got %d", recNone.Code)
	}
}

func TestRequireAny_PublicOrAdmin(t *testing.T) {
	keys := Keys{Public: []string{"pub"}, Admin: []string{"adm"}}
	for key, want := range map[string]int{"pub": 200, "adm": 200, "": 401, "nope": 401} {
		req := httptest.NewRequest(http.MethodGet, "/api/endpoints", nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		RequireAny(keys)(okHandler).ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("key %q: want %d got %d", key, want, rec.Code)
		}
	}
}

func TestAuth_DisabledWithoutKeys(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/api/endpoints/1", nil)
	rec := httptest.NewRecorder()
	RequireAdmin(Keys{})(okHandler).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("no keys configured should allow; got %d", rec.Code)
	}
}

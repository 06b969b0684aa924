package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/MrEthical07/evalauth"
	"github.com/MrEthical07/evalauth/store/memory"
)

func newTestEngine(t *testing.T) (*evalauth.Engine, evalauth.Identity) {
	t.Helper()
	cfg := evalauth.DefaultConfig()
	cfg.Token.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	provider := memory.NewProvider()
	engine, err := evalauth.New().WithConfig(cfg).WithIdentityProvider(provider).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	ident, err := provider.Add(evalauth.Identity{Email: "a@x.com", Active: true, Roles: []string{"member"}})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return engine, ident
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := evalauth.ClaimsFromContext(r.Context())
		if !ok {
			http.Error(w, "no claims", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(strconv.FormatInt(claims.IdentityID, 10)))
	})
}

func TestGuard(t *testing.T) {
	engine, ident := newTestEngine(t)
	tok, err := engine.IssueAccessToken(ident)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	h := Guard(engine)(okHandler())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"valid", "Bearer " + tok.Token, http.StatusOK},
		{"lowercase scheme", "bearer " + tok.Token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusOK && rec.Body.String() != strconv.FormatInt(ident.ID, 10) {
				t.Fatalf("unexpected body %q", rec.Body.String())
			}
		})
	}
}

func TestGuardNilEngine(t *testing.T) {
	rec := httptest.NewRecorder()
	Guard(nil)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequire(t *testing.T) {
	engine, ident := newTestEngine(t)
	tok, err := engine.IssueAccessToken(ident)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}

	serve := func(capability evalauth.Capability, guarded bool) int {
		h := Require(engine, func(*http.Request) evalauth.Capability { return capability })(okHandler())
		if guarded {
			h = Guard(engine)(h)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok.Token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := serve(evalauth.RequireRole("member"), true); got != http.StatusOK {
		t.Fatalf("member: expected 200, got %d", got)
	}
	if got := serve(evalauth.RequireRole("admin"), true); got != http.StatusForbidden {
		t.Fatalf("admin: expected 403, got %d", got)
	}
	if got := serve(evalauth.RequireOwner(ident.ID+1), true); got != http.StatusForbidden {
		t.Fatalf("other owner: expected 403, got %d", got)
	}
	if got := serve(evalauth.RequireRole("member"), false); got != http.StatusUnauthorized {
		t.Fatalf("without guard: expected 401, got %d", got)
	}
}

func TestRequestInfo(t *testing.T) {
	engine, _ := newTestEngine(t)

	var seen string
	h := RequestInfo(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := engine.Authenticate(r.Context(), "a@x.com", "x")
		seen = res.Reason.String()
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %q", seen)
	}
	if got := clientIP("192.0.2.1:5555"); got != "192.0.2.1" {
		t.Fatalf("expected host part, got %q", got)
	}
	if got := clientIP("not-an-addr"); got != "not-an-addr" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

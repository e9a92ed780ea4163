package requestgate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/watup-lk/identity-service/internal/authtest"
	"github.com/watup-lk/identity-service/internal/banregistry"
	"github.com/watup-lk/identity-service/internal/requestgate"
)

func newTestGate(t *testing.T) (*requestgate.Gate, *authtest.FakeRepo) {
	t.Helper()
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	codec, _ := authtest.NewCodec(repo, rdb)
	bans := banregistry.New(repo, rdb, []byte("ip-salt"))
	return requestgate.New(codec, bans), repo
}

func handlerRecordingIdentity(t *testing.T, got *requestgate.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = requestgate.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_AnonymousRequestPassesThrough(t *testing.T) {
	gate, _ := newTestGate(t)
	var id requestgate.Identity
	h := gate.Middleware(handlerRecordingIdentity(t, &id))

	req := httptest.NewRequest(http.MethodGet, "/v1/account/login", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if id.UserID != -1 {
		t.Errorf("expected an anonymous identity, got user id %d", id.UserID)
	}
	if !id.Scope["default"] {
		t.Error("expected the anonymous identity to carry the default scope")
	}
}

func TestMiddleware_BannedIPRejected(t *testing.T) {
	gate, repo := newTestGate(t)

	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for a banned IP")
	}))

	ipHash := sha1HashIPForTest("203.0.113.5")
	repo.BanIP(ipHash, "ip", "abuse")

	req := httptest.NewRequest(http.MethodGet, "/v1/account/login", nil)
	req.Header.Set("cf-connecting-ip", "203.0.113.5")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func sha1HashIPForTest(ip string) []byte {
	// Mirrors banregistry.Registry.HashIP with the same salt used by
	// newTestGate so the fixture can pre-seed a ban by its hash.
	r := banregistry.New(nil, nil, []byte("ip-salt"))
	return r.HashIP(ip)
}

func TestMiddleware_ValidTokenPopulatesIdentity(t *testing.T) {
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	codec, _ := authtest.NewCodec(repo, rdb)
	bans := banregistry.New(repo, rdb, []byte("ip-salt"))
	gate := requestgate.New(codec, bans)

	issued, err := codec.Issue(context.Background(), 7, map[string]any{"scope": []any{"user"}}, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var id requestgate.Identity
	h := gate.Middleware(handlerRecordingIdentity(t, &id))

	req := httptest.NewRequest(http.MethodGet, "/v1/account/login", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if id.UserID != 7 {
		t.Errorf("user id = %d, want 7", id.UserID)
	}
	if !id.Authenticated() {
		t.Error("expected the identity to be authenticated")
	}
	if !id.VerifyScope("user") {
		t.Error("expected the user scope to be present")
	}
}

func TestMiddleware_BannedUserMarkedUnauthenticated(t *testing.T) {
	repo := authtest.New()
	rdb := authtest.NewRedis(t)
	codec, _ := authtest.NewCodec(repo, rdb)
	bans := banregistry.New(repo, rdb, []byte("ip-salt"))
	gate := requestgate.New(codec, bans)

	issued, err := codec.Issue(context.Background(), 9, map[string]any{"scope": []any{"user"}}, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	repo.BanUser(9, "perma", "spam")

	var id requestgate.Identity
	h := gate.Middleware(handlerRecordingIdentity(t, &id))

	req := httptest.NewRequest(http.MethodGet, "/v1/account/login", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (ban is recorded on identity, not rejected at the gate)", rec.Code)
	}
	if id.Authenticated() {
		t.Error("expected a banned user's identity to be unauthenticated")
	}
}

func TestMiddleware_InvalidTokenRejected(t *testing.T) {
	gate, _ := newTestGate(t)
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for an invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/account/login", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatal("expected a non-200 status for an invalid token")
	}
}

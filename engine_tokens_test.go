package evalauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func loginPair(t *testing.T, engine *Engine) TokenPair {
	t.Helper()
	res := engine.Login(context.Background(), "a@x.com", "secret123")
	if !res.Succeeded() || res.Tokens == nil {
		t.Fatalf("login failed: %v", res.Reason)
	}
	return *res.Tokens
}

func TestLoginIssuesPairWithOrderedExpiry(t *testing.T) {
	ids := newFakeIdentities()
	seedAx(t, ids)
	engine := buildTestEngine(t, testConfig(), ids)

	pair := loginPair(t, engine)
	for name, tok := range map[string]IssuedToken{"access": pair.Access, "refresh": pair.Refresh} {
		if !tok.ExpiresAt.After(tok.IssuedAt) {
			t.Fatalf("%s token: exp %v must be after iat %v", name, tok.ExpiresAt, tok.IssuedAt)
		}
		if tok.Token == "" || tok.TokenID == "" {
			t.Fatalf("%s token missing fields: %+v", name, tok)
		}
	}
	if pair.Access.ExpiresAt.After(pair.Refresh.ExpiresAt) {
		t.Fatal("access token must not outlive refresh token")
	}
	if pair.Access.TokenID == pair.Refresh.TokenID {
		t.Fatal("access and refresh tokens must have distinct IDs")
	}
}

func TestLoginFailureIssuesNoTokens(t *testing.T) {
	ids := newFakeIdentities()
	seedAx(t, ids)
	engine := buildTestEngine(t, testConfig(), ids)

	res := engine.Login(context.Background(), "a@x.com", "wrong")
	if res.Succeeded() || res.Tokens != nil {
		t.Fatal("failed login must not issue tokens")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	ids := newFakeIdentities()
	ident := seedAx(t, ids)
	engine := buildTestEngine(t, testConfig(), ids)

	tok, err := engine.IssueAccessToken(ident)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	claims, err := engine.ValidateAccessToken(tok.Token)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}
	if claims.IdentityID != ident.ID {
		t.Fatalf("expected identity %d, got %d", ident.ID, claims.IdentityID)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "member" {
		t.Fatalf("unexpected roles %v", claims.Roles)
	}
	if claims.TokenID != tok.TokenID || !claims.ExpiresAt.Equal(tok.ExpiresAt) {
		t.Fatalf("claims do not match issued token: %+v vs %+v", claims, tok)
	}
}

func TestValidateAccessTokenErrors(t *testing.T) {
	ids := newFakeIdentities()
	ident := seedAx(t, ids)
	clock := newTestClock()
	engine := buildTestEngine(t, testConfig(), ids, withClock(clock))

	if _, err := engine.ValidateAccessToken("not-a-token"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken, got %v", err)
	}

	refreshTok, err := engine.IssueRefreshToken(context.Background(), ident)
	if err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}
	if _, err := engine.ValidateAccessToken(refreshTok.Token); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("refresh token used as access token: expected ErrMalformedToken, got %v", err)
	}

	otherCfg := testConfig()
	otherCfg.Token.SigningKey = []byte("ffffffffffffffffffffffffffffffff")
	other := buildTestEngine(t, otherCfg, ids, withClock(clock))
	foreign, err := other.IssueAccessToken(ident)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	if _, err := engine.ValidateAccessToken(foreign.Token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	tok, err := engine.IssueAccessToken(ident)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	clock.Advance(testConfig().Token.AccessTTL + time.Second)
	if _, err := engine.ValidateAccessToken(tok.Token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestIsExpiredIsAClockCheck(t *testing.T) {
	ids := newFakeIdentities()
	ident := seedAx(t, ids)
	clock := newTestClock()
	engine := buildTestEngine(t, testConfig(), ids, withClock(clock))

	tok, err := engine.IssueAccessToken(ident)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	if engine.IsExpired(tok.Token) {
		t.Fatal("fresh token reported expired")
	}
	clock.Advance(testConfig().Token.AccessTTL)
	if !engine.IsExpired(tok.Token) {
		t.Fatal("token at exp reported not expired")
	}
	if !engine.IsExpired("garbage") {
		t.Fatal("unreadable token must count as expired")
	}
}

func TestValidateRefreshToken(t *testing.T) {
	ids := newFakeIdentities()
	ident := seedAx(t, ids)
	clock := newTestClock()
	engine := buildTestEngine(t, testConfig(), ids, withClock(clock))
	ctx := context.Background()

	tok, err := engine.IssueRefreshToken(ctx, ident)
	if err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}
	got, err := engine.ValidateRefreshToken(ctx, tok.Token)
	if err != nil {
		t.Fatalf("ValidateRefreshToken failed: %v", err)
	}
	if got.ID != ident.ID || got.PasswordHash != "" {
		t.Fatalf("unexpected identity %+v", got)
	}

	ids.setActive(ident.ID, false)
	if _, err := engine.ValidateRefreshToken(ctx, tok.Token); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	ids.setActive(ident.ID, true)

	if _, err := engine.InvalidateRefreshToken(ctx, tok.Token); err != nil {
		t.Fatalf("InvalidateRefreshToken failed: %v", err)
	}
	if _, err := engine.ValidateRefreshToken(ctx, tok.Token); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken, got %v", err)
	}

	access, err := engine.IssueAccessToken(ident)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	if _, err := engine.ValidateRefreshToken(ctx, access.Token); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("access token used as refresh token: expected ErrMalformedToken, got %v", err)
	}

	fresh, err := engine.IssueRefreshToken(ctx, ident)
	if err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}
	clock.Advance(testConfig().Token.RefreshTTL + time.Second)
	if _, err := engine.ValidateRefreshToken(ctx, fresh.Token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestInvalidateRefreshTokenIsIdempotent(t *testing.T) {
	ids := newFakeIdentities()
	ident := seedAx(t, ids)
	clock := newTestClock()
	engine := buildTestEngine(t, testConfig(), ids, withClock(clock))
	ctx := context.Background()

	tok, err := engine.IssueRefreshToken(ctx, ident)
	if err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}
	first, err := engine.InvalidateRefreshToken(ctx, tok.Token)
	if err != nil || !first {
		t.Fatalf("first invalidate: expected true,nil got %v,%v", first, err)
	}
	second, err := engine.InvalidateRefreshToken(ctx, tok.Token)
	if err != nil || second {
		t.Fatalf("second invalidate: expected false,nil got %v,%v", second, err)
	}

	expiring, err := engine.IssueRefreshToken(ctx, ident)
	if err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}
	clock.Advance(testConfig().Token.RefreshTTL + time.Second)
	if ok, err := engine.InvalidateRefreshToken(ctx, expiring.Token); ok || err != nil {
		t.Fatalf("expired token: expected false,nil got %v,%v", ok, err)
	}

	fresh, err := engine.IssueRefreshToken(ctx, ident)
	if err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}
	parts := strings.Split(fresh.Token, ".")
	forged := parts[0] + "." + parts[1] + ".AAAA"
	for name, token := range map[string]string{"garbage": "garbage", "forged": forged} {
		if ok, err := engine.InvalidateRefreshToken(ctx, token); ok || err != nil {
			t.Fatalf("%s token: expected false,nil got %v,%v", name, ok, err)
		}
	}
	if _, err := engine.Logout(ctx, "garbage"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("logout still reports ErrMalformedToken for garbage, got %v", err)
	}
}

func TestRefreshRotatesOnce(t *testing.T) {
	ids := newFakeIdentities()
	seedAx(t, ids)
	engine := buildTestEngine(t, testConfig(), ids)
	ctx := context.Background()

	pair := loginPair(t, engine)
	next, err := engine.Refresh(ctx, pair.Refresh.Token)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.Refresh.TokenID == pair.Refresh.TokenID {
		t.Fatal("refresh must issue a new refresh token")
	}
	if _, err := engine.ValidateAccessToken(next.Access.Token); err != nil {
		t.Fatalf("rotated access token invalid: %v", err)
	}
	if _, err := engine.Refresh(ctx, pair.Refresh.Token); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("reuse of rotated token: expected ErrRevokedToken, got %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricRefreshReuse]; got != 1 {
		t.Fatalf("expected one reuse metric, got %d", got)
	}
}

func TestConcurrentRefreshHasSingleWinner(t *testing.T) {
	ids := newFakeIdentities()
	seedAx(t, ids)
	engine := buildTestEngine(t, testConfig(), ids)

	pair := loginPair(t, engine)

	const workers = 16
	var wins, revoked atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := engine.Refresh(context.Background(), pair.Refresh.Token)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrRevokedToken):
				revoked.Add(1)
			default:
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || revoked.Load() != workers-1 {
		t.Fatalf("expected 1 winner and %d revoked, got %d and %d", workers-1, wins.Load(), revoked.Load())
	}
}

func TestRefreshRejectsDeactivatedIdentity(t *testing.T) {
	ids := newFakeIdentities()
	seedAx(t, ids)
	engine := buildTestEngine(t, testConfig(), ids)

	pair := loginPair(t, engine)
	ids.setActive(1, false)
	if _, err := engine.Refresh(context.Background(), pair.Refresh.Token); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}

	ids.setActive(1, true)
	if _, err := engine.Refresh(context.Background(), pair.Refresh.Token); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken after reactivation, got %v", err)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	ids := newFakeIdentities()
	seedAx(t, ids)
	engine := buildTestEngine(t, testConfig(), ids)
	ctx := context.Background()

	pair := loginPair(t, engine)
	ok, err := engine.Logout(ctx, pair.Refresh.Token)
	if err != nil || !ok {
		t.Fatalf("expected logout to revoke, got %v,%v", ok, err)
	}
	ok, err = engine.Logout(ctx, pair.Refresh.Token)
	if err != nil || ok {
		t.Fatalf("second logout: expected false,nil got %v,%v", ok, err)
	}
	if _, err := engine.Refresh(ctx, pair.Refresh.Token); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken after logout, got %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricLogout]; got != 1 {
		t.Fatalf("expected one logout metric, got %d", got)
	}
}

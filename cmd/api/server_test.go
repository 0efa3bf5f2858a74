package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"verity/apperr"
	"verity/auth"
	"verity/bond"
	"verity/claim"
	"verity/ledger"
	"verity/registry"
	"verity/resolver"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type testEnv struct {
	handler http.Handler
	reg     *registry.Registry
	tokens  map[string]string
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), tokens: map[string]string{}}

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	principals := []auth.Principal{
		{ID: "ops", SecretHash: string(hash), Capabilities: []auth.Capability{auth.CapOwner}},
		{ID: "court", SecretHash: string(hash), Capabilities: []auth.Capability{auth.CapFinalAuthority}},
		{ID: "alice", SecretHash: string(hash), Capabilities: []auth.Capability{auth.CapParticipant}},
		{ID: "bob", SecretHash: string(hash), Capabilities: []auth.Capability{auth.CapParticipant}},
		{ID: "dave", SecretHash: string(hash), Capabilities: []auth.Capability{auth.CapParticipant}},
	}
	repo, err := auth.NewStaticRepository(principals)
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	svc := auth.NewService(repo, "test-secret", time.Hour)

	env.reg = registry.New(claim.NewMemoryStore(), ledger.NewMemoryCustodian(),
		registry.WithClock(func() time.Time { return env.now }),
		registry.WithOwner("ops"),
		registry.WithFinalAuthority("court"),
	)
	ctx := context.Background()
	if err := env.reg.RegisterResolver(ctx, "ops", "optimistic", resolver.NewOptimistic(), resolver.TrustVerified); err != nil {
		t.Fatalf("register resolver: %v", err)
	}
	for class, floor := range map[bond.Class]int64{bond.ClassResolution: 100, bond.ClassDispute: 40} {
		if err := env.reg.SetBondRequirements(ctx, "ops", class, []bond.Requirement{{Asset: bond.Native, Min: decimal.NewFromInt(floor)}}); err != nil {
			t.Fatalf("bond requirements: %v", err)
		}
	}

	for _, p := range principals {
		res, err := svc.Login(ctx, auth.LoginRequest{ID: p.ID, Secret: "secret"})
		if err != nil {
			t.Fatalf("login %s: %v", p.ID, err)
		}
		env.tokens[p.ID] = res.Token
	}
	env.handler = NewServer(env.reg, svc).Routes()
	return env
}

func (e *testEnv) do(t *testing.T, who, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if who != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[who])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeClaim(t *testing.T, rec *httptest.ResponseRecorder) claimResponse {
	t.Helper()
	var resp claimResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode claim: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "", http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "", http.MethodPost, "/api/login", `{"id":"alice","secret":"secret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if resp.Token == "" || resp.Principal != "alice" {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	rec = env.do(t, "", http.MethodPost, "/api/login", `{"id":"alice","secret":"nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "", http.MethodGet, "/api/claims/1", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/claims/1", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	out := httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	if out.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", out.Code)
	}
}

func TestClaimLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "alice", http.MethodPost, "/api/claims", `{"resolver":"optimistic","template_id":0,"payload":"Will it rain?","windows":{"dispute":"1h"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeClaim(t, rec)
	if created.ID != 1 || created.State != "ACTIVE" || created.Creator != "alice" || created.Tier != "PERMISSIONLESS" {
		t.Fatalf("unexpected claim: %+v", created)
	}

	rec = env.do(t, "bob", http.MethodPost, "/api/claims/1/resolve", `{"payload":"true"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("resolve without bond: expected 402, got %d", rec.Code)
	}

	rec = env.do(t, "bob", http.MethodPost, "/api/claims/1/resolve", `{"payload":"true","bond":{"asset":"native","amount":"100","attached":"100"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeClaim(t, rec); got.State != "RESOLVING" || got.DisputeDeadline == "" {
		t.Fatalf("unexpected claim after resolve: %+v", got)
	}

	rec = env.do(t, "alice", http.MethodPost, "/api/claims/1/finalize", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("early finalize: expected 409, got %d", rec.Code)
	}
	var errResp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "WINDOW_NOT_ELAPSED" || errResp.Kind != "temporal" {
		t.Fatalf("unexpected error body: %+v", errResp)
	}

	env.now = env.now.Add(time.Hour)
	rec = env.do(t, "alice", http.MethodPost, "/api/claims/1/finalize", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	final := decodeClaim(t, rec)
	if final.State != "RESOLVED" || final.Result == nil || !final.Result.Bool {
		t.Fatalf("unexpected final claim: %+v", final)
	}

	rec = env.do(t, "dave", http.MethodGet, "/api/claims/1/finalized", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"fully_finalized":true`) {
		t.Fatalf("finalized: got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "dave", http.MethodGet, "/api/claims/1/movements", "")
	var movements []movementResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &movements); err != nil {
		t.Fatalf("decode movements: %v", err)
	}
	if len(movements) != 2 || movements[1].Kind != "return" || movements[1].Amount != "100" {
		t.Fatalf("unexpected movements: %+v", movements)
	}

	rec = env.do(t, "dave", http.MethodGet, "/api/claims/1/question", "")
	if !strings.Contains(rec.Body.String(), "Will it rain?") {
		t.Fatalf("unexpected question: %s", rec.Body.String())
	}
}

func TestDisputeDecisionsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "alice", http.MethodPost, "/api/claims", `{"resolver":"optimistic","template_id":1,"payload":"How many?","windows":{"post_resolution":"1h"}}`)
	env.do(t, "bob", http.MethodPost, "/api/claims/1/resolve", `{"payload":"7","bond":{"asset":"native","amount":"100","attached":"100"}}`)

	rec := env.do(t, "dave", http.MethodPost, "/api/claims/1/dispute", `{"bond":{"asset":"native","amount":"40","attached":"40"},"reason":"miscounted","proposed_answer":{"type":"integer","int":8}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("dispute: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "dave", http.MethodPost, "/api/claims/1/post-resolution-decision", `{"decision":"UPHOLD"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-authority decision: expected 403, got %d", rec.Code)
	}
	rec = env.do(t, "court", http.MethodPost, "/api/claims/1/post-resolution-decision", `{"decision":"MAYBE"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("unknown decision: expected 409, got %d", rec.Code)
	}

	rec = env.do(t, "court", http.MethodPost, "/api/claims/1/post-resolution-decision", `{"decision":"UPHOLD"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("uphold: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeClaim(t, rec)
	if !got.Corrected || got.Result == nil || got.Result.Int != 8 || got.State != "RESOLVED" {
		t.Fatalf("unexpected claim after uphold: %+v", got)
	}
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "alice", http.MethodPost, "/api/admin/resolvers", `{"id":"second","trust":"verified"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("participant admin call: expected 403, got %d", rec.Code)
	}

	rec = env.do(t, "ops", http.MethodPost, "/api/admin/resolvers", `{"id":"second","trust":"verified"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("register resolver: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := env.reg.Resolvers().Config("second"); !ok {
		t.Fatal("resolver was not registered")
	}

	rec = env.do(t, "ops", http.MethodPost, "/api/admin/resolvers", `{"id":"third","trust":"galactic"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad trust: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, "ops", http.MethodPut, "/api/admin/default-dispute-window", `{"window":"-1h"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative window: expected 422, got %d", rec.Code)
	}

	rec = env.do(t, "ops", http.MethodPost, "/api/admin/adjudicators", `{"id":"tk","min_adjudicator_window":"1h"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("register adjudicator: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, "ops", http.MethodPut, "/api/admin/adjudicators/tk/whitelist", "")
	if rec.Code != http.StatusNoContent || !env.reg.Adjudicators().IsWhitelisted("tk") {
		t.Fatalf("whitelist: got %d", rec.Code)
	}

	rec = env.do(t, "alice", http.MethodPost, "/api/claims/preview", `{"resolver":"optimistic","payload":"q","adjudicator":"tk","windows":{"dispute":"1h","adjudicator":"5m"}}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "REJECT_HARD") {
		t.Fatalf("preview: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestClaimErrors(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, "alice", http.MethodGet, "/api/claims/99", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown claim: expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, "alice", http.MethodGet, "/api/claims/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", rec.Code)
	}
	if rec := env.do(t, "alice", http.MethodPost, "/api/claims", `{"resolver":"optimistic","payload":""}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty question: expected 422, got %d", rec.Code)
	}
	if rec := env.do(t, "alice", http.MethodPost, "/api/claims", `{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body: expected 400, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.ErrInvalidClaimID, http.StatusNotFound},
		{apperr.With(apperr.ErrInvalidState, "x"), http.StatusConflict},
		{apperr.ErrWindowElapsed, http.StatusConflict},
		{apperr.ErrReentrantCall, http.StatusForbidden},
		{apperr.ErrInsufficientFunds, http.StatusPaymentRequired},
		{apperr.ErrAnswerTypeMismatch, http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

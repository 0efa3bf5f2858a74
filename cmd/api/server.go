package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verity/adjudicator"
	"verity/answer"
	"verity/apperr"
	"verity/auth"
	"verity/bond"
	"verity/claim"
	"verity/dispute"
	"verity/ledger"
	"verity/registry"
	"verity/resolver"
	"verity/window"
)

// Authenticator issues and checks bearer tokens.
type Authenticator interface {
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Identity, error)
}

// Server exposes the registry over HTTP. Every mutating route acts as the
// authenticated principal; the registry itself decides what that principal
// may do.
type Server struct {
	registry *registry.Registry
	auth     Authenticator
}

func NewServer(reg *registry.Registry, authn Authenticator) *Server {
	return &Server{registry: reg, auth: authn}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(root chi.Router) {
		root.Post("/login", s.handleLogin)
		root.Group(func(api chi.Router) {
			api.Use(s.authenticate)
			s.protected(api)
		})
	})
	return r
}

func (s *Server) protected(api chi.Router) {
	api.Post("/claims", s.handleCreate)
	api.Post("/claims/preview", s.handlePreview)
	api.Route("/claims/{id}", func(c chi.Router) {
		c.Get("/", s.handleClaim)
		c.Get("/result", s.handleResult)
		c.Get("/question", s.handleQuestion)
		c.Get("/finalized", s.handleFinalized)
		c.Get("/movements", s.handleMovements)
		c.Get("/audit", s.handleAudit)

		c.Post("/activate", s.handleActivate)
		c.Post("/reject", s.handleRejectPending)
		c.Post("/resolve", s.handleResolve)
		c.Post("/finalize", s.handleFinalize)
		c.Post("/release-bond", s.handleReleaseBond)
		c.Post("/dispute", s.handleDispute)
		c.Post("/adjudicator-decision", s.handleAdjudicatorDecision)
		c.Post("/escalate-timeout", s.handleEscalateTimeout)
		c.Post("/challenge", s.handleChallenge)
		c.Post("/finalize-after-adjudicator", s.handleFinalizeAfterAdjudicator)
		c.Post("/escalation-decision", s.handleEscalationDecision)
		c.Post("/post-resolution-decision", s.handlePostResolutionDecision)
	})

	api.Put("/vouches/{resolver}", s.handleVouch)
	api.Delete("/vouches/{resolver}", s.handleUnvouch)

	api.Route("/admin", func(adm chi.Router) {
		adm.Use(requireCapability(auth.CapOwner))
		adm.Post("/resolvers", s.handleRegisterResolver)
		adm.Post("/resolvers/{resolver}/deprecate", s.handleDeprecateResolver)
		adm.Post("/resolvers/{resolver}/restore", s.handleRestoreResolver)
		adm.Put("/resolvers/{resolver}/trust", s.handleSetResolverTrust)
		adm.Post("/adjudicators", s.handleRegisterAdjudicator)
		adm.Put("/adjudicators/{adjudicator}/whitelist", s.handleWhitelist)
		adm.Delete("/adjudicators/{adjudicator}/whitelist", s.handleDewhitelist)
		adm.Put("/bonds/{class}", s.handleSetBonds)
		adm.Put("/default-dispute-window", s.handleSetDefaultDisputeWindow)
	})
}

type identityKey struct{}

func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey{}).(auth.Identity)
	return id
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func requireCapability(c auth.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !identityFrom(r.Context()).Can(c) {
				writeError(w, http.StatusForbidden, "missing capability "+string(c))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusFor maps a registry error kind onto an HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindReference:
		return http.StatusNotFound
	case apperr.KindState, apperr.KindTemporal:
		return http.StatusConflict
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindEconomic:
		return http.StatusPaymentRequired
	case apperr.KindData:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: apperr.Code(err), Kind: string(apperr.KindOf(err))})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func claimID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:        res.Token,
		ExpiresAt:    res.ExpiresAt.UTC().Format(time.RFC3339),
		Principal:    res.Identity.ID,
		Capabilities: res.Identity.Capabilities,
	})
}

type loginResponse struct {
	Token        string            `json:"token"`
	ExpiresAt    string            `json:"expires_at"`
	Principal    string            `json:"principal"`
	Capabilities []auth.Capability `json:"capabilities"`
}

// windowsRequest carries durations as Go duration strings ("90m").
type windowsRequest struct {
	Dispute        string `json:"dispute"`
	Adjudicator    string `json:"adjudicator"`
	Escalation     string `json:"escalation"`
	PostResolution string `json:"post_resolution"`
}

func parseDuration(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	return time.ParseDuration(v)
}

func (wr *windowsRequest) set() (*window.Set, error) {
	if wr == nil {
		return nil, nil
	}
	var out window.Set
	for _, f := range []struct {
		dst *time.Duration
		raw string
	}{
		{&out.Dispute, wr.Dispute},
		{&out.Adjudicator, wr.Adjudicator},
		{&out.Escalation, wr.Escalation},
		{&out.PostResolution, wr.PostResolution},
	} {
		d, err := parseDuration(f.raw)
		if err != nil {
			return nil, apperr.With(apperr.ErrInvalidWindows, "%q", f.raw)
		}
		*f.dst = d
	}
	return &out, nil
}

type createRequest struct {
	Resolver    string          `json:"resolver"`
	TemplateID  uint64          `json:"template_id"`
	Payload     string          `json:"payload"`
	Adjudicator string          `json:"adjudicator"`
	Windows     *windowsRequest `json:"windows"`
}

func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) (registry.CreateRequest, bool) {
	var req createRequest
	if !decode(w, r, &req) {
		return registry.CreateRequest{}, false
	}
	ws, err := req.Windows.set()
	if err != nil {
		s.fail(w, r, err)
		return registry.CreateRequest{}, false
	}
	return registry.CreateRequest{
		Creator:     identityFrom(r.Context()).ID,
		Resolver:    req.Resolver,
		TemplateID:  req.TemplateID,
		Payload:     []byte(req.Payload),
		Adjudicator: req.Adjudicator,
		Windows:     ws,
	}, true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.createRequest(w, r)
	if !ok {
		return
	}
	c, err := s.registry.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newClaimResponse(claim.Record{Claim: c}))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req, ok := s.createRequest(w, r)
	if !ok {
		return
	}
	resp, t, err := s.registry.PreviewCreate(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": resp.String(), "tier": t.String()})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(w, r)
	if !ok {
		return
	}
	rec, err := s.registry.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(rec))
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(w, r)
	if !ok {
		return
	}
	a, has, err := s.registry.Result(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !has {
		writeJSON(w, http.StatusOK, map[string]any{"has_result": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"has_result": true, "answer": a})
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(w, r)
	if !ok {
		return
	}
	text, err := s.registry.Question(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"question": text})
}

func (s *Server) handleFinalized(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(w, r)
	if !ok {
		return
	}
	done, err := s.registry.IsFullyFinalized(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"fully_finalized": done})
}

func (s *Server) handleMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(w, r)
	if !ok {
		return
	}
	mv, err := s.registry.Movements(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]movementResponse, 0, len(mv))
	for _, m := range mv {
		out = append(out, newMovementResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(w, r)
	if !ok {
		return
	}
	balances, err := s.registry.Audit(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]map[string]string, 0, len(balances))
	for _, b := range balances {
		out = append(out, map[string]string{
			"asset":       string(b.Asset),
			"outstanding": b.Outstanding().String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// claimAction runs a registry operation that only needs the caller and the
// claim id.
func (s *Server) claimAction(op func(ctx context.Context, caller string, id uint64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := claimID(w, r)
		if !ok {
			return
		}
		if err := op(r.Context(), identityFrom(r.Context()).ID, id); err != nil {
			s.fail(w, r, err)
			return
		}
		s.respondClaim(w, r, id)
	}
}

func (s *Server) respondClaim(w http.ResponseWriter, r *http.Request, id uint64) {
	rec, err := s.registry.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(rec))
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.claimAction(s.registry.ActivatePending)(w, r)
}

func (s *Server) handleRejectPending(w http.ResponseWriter, r *http.Request) {
	s.claimAction(s.registry.RejectPending)(w, r)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	s.claimAction(s.registry.Finalize)(w, r)
}

func (s *Server) handleReleaseBond(w http.ResponseWriter, r *http.Request) {
	s.claimAction(s.registry.ReleaseResolutionBond)(w, r)
}

func (s *Server) handleEscalateTimeout(w http.ResponseWriter, r *http.Request) {
	s.claimAction(s.registry.EscalateOnAdjudicatorTimeout)(w, r)
}

func (s *Server) handleFinalizeAfterAdjudicator(w http.ResponseWriter, r *http.Request) {
	s.claimAction(s.registry.FinalizeAfterAdjudicator)(w, r)
}

type resolveRequest struct {
	Payload string        `json:"payload"`
	Bond    *bond.Payment `json:"bond"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := s.registry.Resolve(r.Context(), registry.ResolveRequest{
		ClaimID:  id,
		Proposer: identityFrom(r.Context()).ID,
		Payload:  []byte(req.Payload),
		Bond:     req.Bond,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondClaim(w, r, c.ID)
}

type filingRequest struct {
	Bond           bond.Payment   `json:"bond"`
	Reason         string         `json:"reason"`
	EvidenceRef    string         `json:"evidence_ref"`
	ProposedAnswer *answer.Answer `json:"proposed_answer"`
}

func (s *Server) filing(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uint64, f dispute.Filing) error) {
	id, ok := claimID(w, r)
	if !ok {
		return
	}
	var req filingRequest
	if !decode(w, r, &req) {
		return
	}
	err := op(r.Context(), id, dispute.Filing{
		Party:          identityFrom(r.Context()).ID,
		Bond:           req.Bond,
		Reason:         req.Reason,
		EvidenceRef:    req.EvidenceRef,
		ProposedAnswer: req.ProposedAnswer,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondClaim(w, r, id)
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	s.filing(w, r, s.registry.Dispute)
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	s.filing(w, r, s.registry.ChallengeAdjudicatorDecision)
}

type decisionRequest struct {
	Decision        string         `json:"decision"`
	CorrectedAnswer *answer.Answer `json:"corrected_answer"`
}

func (s *Server) decision(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, req registry.DecisionRequest) error) {
	id, ok := claimID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := claim.ParseDecision(req.Decision)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := op(r.Context(), registry.DecisionRequest{
		ClaimID:   id,
		Caller:    identityFrom(r.Context()).ID,
		Decision:  d,
		Corrected: req.CorrectedAnswer,
	}); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondClaim(w, r, id)
}

func (s *Server) handleAdjudicatorDecision(w http.ResponseWriter, r *http.Request) {
	s.decision(w, r, s.registry.ResolveAdjudicatorDispute)
}

func (s *Server) handleEscalationDecision(w http.ResponseWriter, r *http.Request) {
	s.decision(w, r, s.registry.ResolveEscalation)
}

func (s *Server) handlePostResolutionDecision(w http.ResponseWriter, r *http.Request) {
	s.decision(w, r, s.registry.ResolvePostResolutionDispute)
}

func (s *Server) handleVouch(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Vouch(r.Context(), identityFrom(r.Context()).ID, chi.URLParam(r, "resolver")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnvouch(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Unvouch(r.Context(), identityFrom(r.Context()).ID, chi.URLParam(r, "resolver")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// adminAction runs an owner operation and answers 204.
func (s *Server) adminAction(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller string) error) {
	if err := op(r.Context(), identityFrom(r.Context()).ID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resolverRequest struct {
	ID     string `json:"id"`
	Trust  string `json:"trust"`
	Review bool   `json:"review"`
}

func (s *Server) handleRegisterResolver(w http.ResponseWriter, r *http.Request) {
	var req resolverRequest
	if !decode(w, r, &req) {
		return
	}
	trust, err := resolver.ParseTrust(req.Trust)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var opts []resolver.OptimisticOption
	if req.Review {
		opts = append(opts, resolver.WithReview())
	}
	s.adminAction(w, r, func(ctx context.Context, caller string) error {
		return s.registry.RegisterResolver(ctx, caller, req.ID, resolver.NewOptimistic(opts...), trust)
	})
}

func (s *Server) handleDeprecateResolver(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, func(ctx context.Context, caller string) error {
		return s.registry.DeprecateResolver(ctx, caller, chi.URLParam(r, "resolver"))
	})
}

func (s *Server) handleRestoreResolver(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, func(ctx context.Context, caller string) error {
		return s.registry.RestoreResolver(ctx, caller, chi.URLParam(r, "resolver"))
	})
}

func (s *Server) handleSetResolverTrust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Trust string `json:"trust"`
	}
	if !decode(w, r, &req) {
		return
	}
	trust, err := resolver.ParseTrust(req.Trust)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.adminAction(w, r, func(ctx context.Context, caller string) error {
		return s.registry.SetResolverTrust(ctx, caller, chi.URLParam(r, "resolver"), trust)
	})
}

type adjudicatorRequest struct {
	ID                   string `json:"id"`
	MinAdjudicatorWindow string `json:"min_adjudicator_window"`
	MinEscalationWindow  string `json:"min_escalation_window"`
}

func (s *Server) handleRegisterAdjudicator(w http.ResponseWriter, r *http.Request) {
	var req adjudicatorRequest
	if !decode(w, r, &req) {
		return
	}
	minAdj, err := parseDuration(req.MinAdjudicatorWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid min_adjudicator_window")
		return
	}
	minEsc, err := parseDuration(req.MinEscalationWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid min_escalation_window")
		return
	}
	var hook adjudicator.Adjudicator
	if minAdj > 0 || minEsc > 0 {
		hook = adjudicator.Floor{MinAdjudicator: minAdj, MinEscalation: minEsc}
	}
	s.adminAction(w, r, func(ctx context.Context, caller string) error {
		return s.registry.RegisterAdjudicator(ctx, caller, req.ID, hook)
	})
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, func(ctx context.Context, caller string) error {
		return s.registry.WhitelistAdjudicator(ctx, caller, chi.URLParam(r, "adjudicator"))
	})
}

func (s *Server) handleDewhitelist(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, func(ctx context.Context, caller string) error {
		return s.registry.DewhitelistAdjudicator(ctx, caller, chi.URLParam(r, "adjudicator"))
	})
}

func (s *Server) handleSetBonds(w http.ResponseWriter, r *http.Request) {
	var reqs []bond.Requirement
	if !decode(w, r, &reqs) {
		return
	}
	class := bond.Class(chi.URLParam(r, "class"))
	s.adminAction(w, r, func(ctx context.Context, caller string) error {
		return s.registry.SetBondRequirements(ctx, caller, class, reqs)
	})
}

func (s *Server) handleSetDefaultDisputeWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Window string `json:"window"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, err := time.ParseDuration(req.Window)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window")
		return
	}
	s.adminAction(w, r, func(ctx context.Context, caller string) error {
		return s.registry.SetDefaultDisputeWindow(ctx, caller, d)
	})
}

type claimResponse struct {
	ID                     uint64                `json:"id"`
	Creator                string                `json:"creator"`
	Resolver               string                `json:"resolver"`
	TemplateID             uint64                `json:"template_id"`
	AnswerType             answer.Type           `json:"answer_type"`
	Adjudicator            string                `json:"adjudicator,omitempty"`
	Windows                map[string]string     `json:"windows"`
	Tier                   string                `json:"tier"`
	State                  string                `json:"state"`
	CreatedAt              string                `json:"created_at"`
	ResolvedAt             string                `json:"resolved_at,omitempty"`
	DisputeDeadline        string                `json:"dispute_deadline,omitempty"`
	AdjudicatorDeadline    string                `json:"adjudicator_deadline,omitempty"`
	EscalationDeadline     string                `json:"escalation_deadline,omitempty"`
	PostResolutionDeadline string                `json:"post_resolution_deadline,omitempty"`
	Resolution             *claim.ResolutionInfo `json:"resolution,omitempty"`
	Dispute                *claim.DisputeInfo    `json:"dispute,omitempty"`
	Escalation             *claim.EscalationInfo `json:"escalation,omitempty"`
	Result                 *answer.Answer        `json:"result,omitempty"`
	Corrected              bool                  `json:"corrected"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func newClaimResponse(rec claim.Record) claimResponse {
	c := rec.Claim
	out := claimResponse{
		ID:          c.ID,
		Creator:     c.Creator,
		Resolver:    c.Resolver,
		TemplateID:  c.TemplateID,
		AnswerType:  c.AnswerType,
		Adjudicator: c.Adjudicator,
		Windows: map[string]string{
			"dispute":         c.Windows.Dispute.String(),
			"adjudicator":     c.Windows.Adjudicator.String(),
			"escalation":      c.Windows.Escalation.String(),
			"post_resolution": c.Windows.PostResolution.String(),
		},
		Tier:                   c.Tier.String(),
		State:                  c.State.String(),
		CreatedAt:              formatTime(c.CreatedAt),
		ResolvedAt:             formatTime(c.ResolvedAt),
		DisputeDeadline:        formatTime(c.DisputeDeadline),
		AdjudicatorDeadline:    formatTime(c.AdjudicatorDeadline),
		EscalationDeadline:     formatTime(c.EscalationDeadline),
		PostResolutionDeadline: formatTime(c.PostResolutionDeadline),
		Resolution:             rec.Resolution,
		Dispute:                rec.Dispute,
		Escalation:             rec.Escalation,
		Corrected:              rec.Result.HasCorrectedResult,
	}
	if a, ok := rec.Result.Effective(); ok {
		out.Result = &a
	}
	return out
}

type movementResponse struct {
	Class     string `json:"class"`
	Kind      string `json:"kind"`
	Party     string `json:"party"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	CreatedAt string `json:"created_at"`
}

func newMovementResponse(m ledger.Movement) movementResponse {
	return movementResponse{
		Class:     string(m.Class),
		Kind:      string(m.Kind),
		Party:     m.Party,
		Asset:     string(m.Asset),
		Amount:    m.Amount.String(),
		CreatedAt: formatTime(m.CreatedAt),
	}
}

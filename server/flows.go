package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-frob-oauth/instrumentation"
	"github.com/giantswarm/mcp-frob-oauth/legacy"
	"github.com/giantswarm/mcp-frob-oauth/security"
	"github.com/giantswarm/mcp-frob-oauth/storage"
)

// FlowState is a state of the authorization state machine.
type FlowState string

// Authorization flow states. REDEEMED, EXPIRED and ERROR are terminal.
const (
	StateStart              FlowState = "START"
	StateAwaitingUserAction FlowState = "AWAITING_USER_ACTION"
	StateCodeIssued         FlowState = "CODE_ISSUED"
	StateRedeemed           FlowState = "REDEEMED"
	StateExpired            FlowState = "EXPIRED"
	StateError              FlowState = "ERROR"
)

// maxFrobLength bounds completion input before it reaches the store
const maxFrobLength = 256

// Handoff is the result of a successful StartAuthorization: the user must now
// authorize Frob on the legacy site at AuthURL.
type Handoff struct {
	State      FlowState
	Mode       HandoffMode
	Frob       string
	AuthURL    string
	ClientID   string
	ClientName string
	ExpiresAt  time.Time
}

// Completion is the outcome of a completion signal.
type Completion struct {
	State FlowState

	// Frob is the exchange identifier the completion was for
	Frob string

	// ClientID is the requesting client, when the handoff was found
	ClientID string

	// RedirectURL is the client's redirect_uri with code and state attached.
	// Set only in StateCodeIssued.
	RedirectURL string

	// RedirectURI is the client's original redirect_uri
	RedirectURI string

	// AuthURL is the legacy authorization page for Frob, set when the handoff
	// was found so the user can authorize again before retrying
	AuthURL string

	// Request is the original authorization request, set when the handoff was
	// found so the flow can be restarted from START
	Request *AuthorizationRequest

	// Reason is a user-facing explanation for StateExpired and StateError
	Reason string

	// Err is the internal cause of StateError. Never shown to users.
	Err error
}

// User-facing explanations
const (
	reasonExpired       = "This sign-in request has expired or was already completed. Please start again from your application."
	reasonNotAuthorized = "The task service has not confirmed access yet. Allow access on the task service, then try again."
	reasonLegacyFailure = "The task service could not complete the sign-in. Please try again."
	reasonStoreFailure  = "The sign-in could not be saved. Please try again."
)

// StartAuthorization validates an authorization request, obtains a frob from
// the legacy API and persists the pending handoff keyed by it. Validation
// failures are returned as invalid_request before any state is written.
func (s *Server) StartAuthorization(ctx context.Context, req *AuthorizationRequest) (*Handoff, error) {
	ctx, span := s.tracer.Start(ctx, "frob.start_authorization")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, "", req.Scope)

	if err := s.validateAuthorizationRequest(req); err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	frob, err := s.getFrob(ctx)
	if err != nil {
		instrumentation.RecordError(span, err)
		s.Logger.Error("Failed to obtain frob from legacy API", "error", err)
		return nil, ErrServerError("failed to start authorization with the task service", err)
	}

	now := s.clock()
	handoff := &storage.PendingHandoff{
		Frob:                frob,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.NormalizedChallengeMethod(),
		CreatedAt:           now,
	}
	if err := s.sessions.SavePendingHandoff(ctx, handoff, s.Config.PendingHandoffTTL); err != nil {
		instrumentation.RecordError(span, err)
		s.Logger.Error("Failed to save pending handoff", "frob", security.Redact(frob), "error", err)
		return nil, ErrServerError("failed to save authorization request", err)
	}

	s.metrics().RecordHandoffStarted(ctx, req.ClientID)
	s.Auditor.LogHandoffStarted(ctx, req.ClientID, clientIPFromContext(ctx), frob)
	s.Logger.Info("Authorization started",
		"client_id", req.ClientID,
		"frob", security.Redact(frob),
		"mode", s.Config.HandoffMode)

	instrumentation.AddFlowStateAttribute(span, string(StateAwaitingUserAction))
	instrumentation.SetSpanSuccess(span)

	h := &Handoff{
		State:     StateAwaitingUserAction,
		Mode:      s.Config.HandoffMode,
		Frob:      frob,
		AuthURL:   s.legacy.AuthURL(frob),
		ClientID:  req.ClientID,
		ExpiresAt: now.Add(s.Config.PendingHandoffTTL),
	}
	if client, ok := s.clients.Lookup(req.ClientID); ok {
		h.ClientName = client.Name
	}
	return h, nil
}

func (s *Server) validateAuthorizationRequest(req *AuthorizationRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.ClientID == "" {
		if s.Config.RequireRegisteredClients {
			return ErrInvalidRequest("client_id is required")
		}
	} else if _, ok := s.clients.Lookup(req.ClientID); !ok && s.Config.RequireRegisteredClients {
		return ErrInvalidClient("unknown client_id")
	}
	return s.validateRedirectURI(req.ClientID, req.RedirectURI)
}

// CompleteAuthorization handles the user's completion signal for frob.
//
// A missing or expired handoff yields StateExpired. A legacy or store failure
// yields StateError and leaves the handoff in place so the user can retry.
// On success the legacy token is bound to a fresh single-use code, the
// handoff is deleted and the completion carries the client redirect.
//
// The returned error is non-nil only for malformed input.
func (s *Server) CompleteAuthorization(ctx context.Context, frob string) (*Completion, error) {
	ctx, span := s.tracer.Start(ctx, "frob.complete_authorization")
	defer span.End()

	if frob == "" {
		return nil, ErrInvalidRequest("frob is required")
	}
	if len(frob) > maxFrobLength {
		return nil, ErrInvalidRequest("frob is too long")
	}

	c := s.completeAuthorization(ctx, span, frob)

	s.metrics().RecordHandoffCompletion(ctx, string(c.State))
	instrumentation.AddFlowStateAttribute(span, string(c.State))
	if c.Err != nil {
		instrumentation.RecordError(span, c.Err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	return c, nil
}

func (s *Server) completeAuthorization(ctx context.Context, span trace.Span, frob string) *Completion {
	clientIP := clientIPFromContext(ctx)

	handoff, err := s.sessions.GetPendingHandoff(ctx, frob)
	if errors.Is(err, storage.ErrNotFound) {
		s.Auditor.LogHandoffExpired(ctx, "", clientIP, frob)
		return &Completion{State: StateExpired, Frob: frob, Reason: reasonExpired}
	}
	if err != nil {
		s.Logger.Error("Failed to load pending handoff", "frob", security.Redact(frob), "error", err)
		return &Completion{State: StateError, Frob: frob, Reason: reasonStoreFailure, Err: err}
	}

	instrumentation.AddOAuthFlowAttributes(span, handoff.ClientID, "", handoff.Scope)

	// the store's TTL eviction is best-effort
	if security.IsExpired(handoff.CreatedAt, s.Config.PendingHandoffTTL, s.clock()) {
		if err := s.sessions.DeletePendingHandoff(ctx, frob); err != nil {
			s.Logger.Warn("Failed to delete expired handoff", "frob", security.Redact(frob), "error", err)
		}
		s.Auditor.LogHandoffExpired(ctx, handoff.ClientID, clientIP, frob)
		return &Completion{State: StateExpired, Frob: frob, ClientID: handoff.ClientID, Reason: reasonExpired}
	}

	c := &Completion{
		Frob:        frob,
		ClientID:    handoff.ClientID,
		RedirectURI: handoff.RedirectURI,
		AuthURL:     s.legacy.AuthURL(frob),
		Request:     requestFromHandoff(handoff),
	}

	auth, err := s.getToken(ctx, frob)
	if err != nil {
		c.State = StateError
		c.Err = err
		c.Reason = reasonLegacyFailure
		if legacy.IsFrobNotAuthorized(err) {
			c.Reason = reasonNotAuthorized
		}
		s.Logger.Warn("Legacy token exchange failed",
			"frob", security.Redact(frob),
			"client_id", handoff.ClientID,
			"error", err)
		s.Auditor.LogHandoffError(ctx, handoff.ClientID, clientIP, err.Error())
		return c
	}

	code := generateCode()
	record := &storage.AuthorizationCode{
		Code:                code,
		LegacyToken:         auth.Token,
		UserID:              auth.User.ID,
		Username:            auth.User.Username,
		UserDisplayName:     auth.User.DisplayName(),
		ClientID:            handoff.ClientID,
		RedirectURI:         handoff.RedirectURI,
		Scope:               handoff.Scope,
		CodeChallenge:       handoff.CodeChallenge,
		CodeChallengeMethod: handoff.CodeChallengeMethod,
		IssuedAt:            s.clock(),
	}
	if err := s.sessions.SaveAuthorizationCode(ctx, record, s.Config.AuthorizationCodeTTL); err != nil {
		s.Logger.Error("Failed to save authorization code", "frob", security.Redact(frob), "error", err)
		c.State = StateError
		c.Err = err
		c.Reason = reasonStoreFailure
		return c
	}

	if err := s.sessions.DeletePendingHandoff(ctx, frob); err != nil {
		// the frob is spent on the legacy side, so a leftover handoff cannot mint another code
		s.Logger.Warn("Failed to delete completed handoff", "frob", security.Redact(frob), "error", err)
	}

	redirectURL, err := buildClientRedirect(handoff.RedirectURI, code, handoff.State)
	if err != nil {
		c.State = StateError
		c.Err = err
		c.Reason = reasonStoreFailure
		return c
	}

	c.State = StateCodeIssued
	c.RedirectURL = redirectURL

	instrumentation.AddOAuthFlowAttributes(span, handoff.ClientID, auth.User.ID, handoff.Scope)
	s.Auditor.LogHandoffCompleted(ctx, auth.User.ID, handoff.ClientID, clientIP)
	s.Logger.Info("Authorization code issued",
		"client_id", handoff.ClientID,
		"code_prefix", safeTruncate(code, 8))
	return c
}

func requestFromHandoff(h *storage.PendingHandoff) *AuthorizationRequest {
	return &AuthorizationRequest{
		ResponseType:        ResponseTypeCode,
		ClientID:            h.ClientID,
		RedirectURI:         h.RedirectURI,
		State:               h.State,
		Scope:               h.Scope,
		CodeChallenge:       h.CodeChallenge,
		CodeChallengeMethod: h.CodeChallengeMethod,
	}
}

// buildClientRedirect attaches code and the client's state to redirectURI
func buildClientRedirect(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid stored redirect_uri: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Server) getFrob(ctx context.Context) (string, error) {
	ctx, span := s.tracer.Start(ctx, "legacy."+legacy.MethodGetFrob)
	defer span.End()

	start := time.Now()
	frob, err := s.legacy.GetFrob(ctx)
	s.recordLegacyCall(ctx, span, legacy.MethodGetFrob, start, err)
	return frob, err
}

func (s *Server) getToken(ctx context.Context, frob string) (*legacy.Auth, error) {
	ctx, span := s.tracer.Start(ctx, "legacy."+legacy.MethodGetToken)
	defer span.End()

	start := time.Now()
	auth, err := s.legacy.GetToken(ctx, frob)
	s.recordLegacyCall(ctx, span, legacy.MethodGetToken, start, err)
	return auth, err
}

func (s *Server) recordLegacyCall(ctx context.Context, span trace.Span, method string, start time.Time, err error) {
	errorCode := ""
	if apiErr, ok := legacy.AsAPIError(err); ok {
		errorCode = apiErr.Code
	}
	instrumentation.AddLegacyAttributes(span, method, errorCode)
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	s.metrics().RecordLegacyAPICall(ctx, method, float64(time.Since(start).Milliseconds()), err)
}

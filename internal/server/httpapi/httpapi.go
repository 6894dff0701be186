// Package httpapi exposes the identity operations over a small JSON API.
// It is the hand-written counterpart of the gRPC endpoint, which only
// carries health and reflection.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"ghostauth/internal/convert"
	"ghostauth/internal/ghost"
	identitydomain "ghostauth/internal/identity/domain"
	"ghostauth/internal/identity/service"
	"ghostauth/internal/otp"
	otpdomain "ghostauth/internal/otp/domain"
	"ghostauth/internal/token"
	tokendomain "ghostauth/internal/token/domain"
)

// OTPService generates and verifies challenges for a contact target.
type OTPService interface {
	Generate(ctx context.Context, target identitydomain.Target, purpose otpdomain.Purpose, deliver bool) (*otp.GenerateResult, error)
	Verify(ctx context.Context, code string, target identitydomain.Target, purpose otpdomain.Purpose) (*otp.VerifyResult, error)
}

// LoginService verifies a code and resolves it to an identity plus tokens.
type LoginService interface {
	Login(ctx context.Context, actorKey, code string, target identitydomain.Target, profile *convert.Profile, clientRef string) (*service.LoginResult, error)
}

// ConvertService turns a ghost identity into a permanent one.
type ConvertService interface {
	Convert(ctx context.Context, ghostKey, targetKey string, profile *convert.Profile, code string) (*convert.Result, error)
}

// GhostService creates ephemeral sessions.
type GhostService interface {
	CreateGhostSession(ctx context.Context, email string) (*ghost.Session, error)
}

// TokenService rotates and revokes bearer tokens.
type TokenService interface {
	Refresh(ctx context.Context, refreshToken string) (*tokendomain.Pair, error)
	RevokeAllForIdentity(ctx context.Context, ownerID string) (int, error)
	ValidateAccess(ctx context.Context, accessToken string) (*tokendomain.BearerToken, error)
}

// KeyResolver maps an identity ID to its key.
type KeyResolver interface {
	KeyByID(ctx context.Context, id string) (string, error)
}

// Handler serves the JSON API.
type Handler struct {
	otps       OTPService
	auth       LoginService
	converter  ConvertService
	ghosts     GhostService
	tokens     TokenService
	identities KeyResolver
	log        zerolog.Logger
}

// New returns a Handler over the given services.
func New(otps OTPService, auth LoginService, converter ConvertService, ghosts GhostService, tokens TokenService, identities KeyResolver, log zerolog.Logger) *Handler {
	return &Handler{otps: otps, auth: auth, converter: converter, ghosts: ghosts, tokens: tokens, identities: identities, log: log}
}

// Register wires the API routes into the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/otp", h.handleGenerateOTP)
	mux.HandleFunc("POST /v1/otp/verify", h.handleVerifyOTP)
	mux.HandleFunc("POST /v1/login", h.handleLogin)
	mux.HandleFunc("POST /v1/convert", h.handleConvert)
	mux.HandleFunc("POST /v1/ghost", h.handleCreateGhost)
	mux.HandleFunc("POST /v1/token/refresh", h.handleRefresh)
	mux.HandleFunc("POST /v1/token/revoke", h.handleRevoke)
}

type generateOTPRequest struct {
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Purpose string `json:"purpose"`
}

type generateOTPResponse struct {
	Delivered bool `json:"delivered"`
	Sandbox   bool `json:"sandbox,omitempty"`
}

func (h *Handler) handleGenerateOTP(w http.ResponseWriter, r *http.Request) {
	var req generateOTPRequest
	if !decode(w, r, &req) {
		return
	}
	purpose := otpdomain.Purpose(req.Purpose)
	if purpose == "" {
		purpose = otpdomain.PurposeLogin
	}
	res, err := h.otps.Generate(r.Context(), identitydomain.Target{Email: req.Email, Phone: req.Phone}, purpose, true)
	if err != nil {
		switch {
		case errors.Is(err, otp.ErrMissingContact):
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, otp.ErrRateLimited):
			writeJSONError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
		default:
			h.internal(w, err, "otp generate")
		}
		return
	}
	writeJSON(w, http.StatusOK, generateOTPResponse{Delivered: res.Delivered, Sandbox: res.Sandbox})
}

type verifyOTPRequest struct {
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

type verifyOTPResponse struct {
	Valid   bool `json:"valid"`
	Sandbox bool `json:"sandbox,omitempty"`
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !decode(w, r, &req) {
		return
	}
	purpose := otpdomain.Purpose(req.Purpose)
	if purpose == "" {
		purpose = otpdomain.PurposeLogin
	}
	res, err := h.otps.Verify(r.Context(), req.Code, identitydomain.Target{Email: req.Email, Phone: req.Phone}, purpose)
	if err != nil {
		switch {
		case errors.Is(err, otp.ErrInvalidCode), errors.Is(err, otp.ErrCodeExpired):
			writeJSONError(w, http.StatusUnauthorized, "invalid_code", err.Error())
		default:
			h.internal(w, err, "otp verify")
		}
		return
	}
	writeJSON(w, http.StatusOK, verifyOTPResponse{Valid: res.Valid, Sandbox: res.Sandbox})
}

type loginRequest struct {
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Code      string `json:"code"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ClientID  string `json:"client_id"`
}

type loginResponse struct {
	IdentityKey string        `json:"identity_key"`
	Created     bool          `json:"created"`
	Converted   bool          `json:"converted"`
	Tokens      *pairResponse `json:"tokens,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	// A valid bearer token identifies the caller; a ghost caller is routed
	// to conversion instead of a fresh login.
	actorKey := h.actorKey(r)
	var profile *convert.Profile
	if req.FirstName != "" || req.LastName != "" {
		profile = &convert.Profile{FirstName: req.FirstName, LastName: req.LastName}
	}
	res, err := h.auth.Login(r.Context(), actorKey, req.Code, identitydomain.Target{Email: req.Email, Phone: req.Phone}, profile, req.ClientID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingTarget):
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, otp.ErrInvalidCode), errors.Is(err, otp.ErrCodeExpired):
			writeJSONError(w, http.StatusUnauthorized, "invalid_code", err.Error())
		default:
			h.internal(w, err, "login")
		}
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		IdentityKey: res.IdentityKey,
		Created:     res.Created,
		Converted:   res.Converted,
		Tokens:      pairJSON(res.Tokens),
	})
}

type convertRequest struct {
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Code      string `json:"code"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type convertResponse struct {
	IdentityKey string        `json:"identity_key"`
	Merged      bool          `json:"merged"`
	Roles       []string      `json:"roles"`
	Tokens      *pairResponse `json:"tokens,omitempty"`
}

// handleConvert turns the authenticated ghost caller into a permanent
// identity keyed by the supplied contact point.
func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if !decode(w, r, &req) {
		return
	}
	ghostKey := h.actorKey(r)
	if ghostKey == "" {
		writeJSONError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid authorization")
		return
	}
	targetKey := (identitydomain.Target{Email: req.Email, Phone: req.Phone}).Key()
	if targetKey == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "a contact point is required")
		return
	}
	var profile *convert.Profile
	if req.FirstName != "" || req.LastName != "" {
		profile = &convert.Profile{FirstName: req.FirstName, LastName: req.LastName}
	}
	res, err := h.converter.Convert(r.Context(), ghostKey, targetKey, profile, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, convert.ErrGhostNotFound):
			writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, convert.ErrOTPRequired):
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, otp.ErrInvalidCode), errors.Is(err, otp.ErrCodeExpired):
			writeJSONError(w, http.StatusUnauthorized, "invalid_code", err.Error())
		default:
			h.internal(w, err, "convert")
		}
		return
	}
	writeJSON(w, http.StatusOK, convertResponse{
		IdentityKey: res.IdentityKey,
		Merged:      res.Merged,
		Roles:       res.Roles,
		Tokens:      pairJSON(res.Tokens),
	})
}

type createGhostRequest struct {
	Email string `json:"email"`
}

type ghostResponse struct {
	IdentityKey string        `json:"identity_key"`
	Tokens      *pairResponse `json:"tokens,omitempty"`
}

func (h *Handler) handleCreateGhost(w http.ResponseWriter, r *http.Request) {
	var req createGhostRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.ghosts.CreateGhostSession(r.Context(), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, ghost.ErrFeatureDisabled):
			writeJSONError(w, http.StatusForbidden, "feature_disabled", err.Error())
		default:
			h.internal(w, err, "ghost create")
		}
		return
	}
	writeJSON(w, http.StatusOK, ghostResponse{IdentityKey: sess.Identity.Key, Tokens: pairJSON(sess.Tokens)})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := h.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrInvalidRefreshToken), errors.Is(err, token.ErrRefreshExpired):
			writeJSONError(w, http.StatusUnauthorized, "invalid_token", err.Error())
		default:
			h.internal(w, err, "token refresh")
		}
		return
	}
	writeJSON(w, http.StatusOK, pairJSON(pair))
}

type revokeResponse struct {
	Revoked int `json:"revoked"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	bt := h.bearer(r)
	if bt == nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid authorization")
		return
	}
	n, err := h.tokens.RevokeAllForIdentity(r.Context(), bt.OwnerID)
	if err != nil {
		h.internal(w, err, "token revoke")
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{Revoked: n})
}

// bearer validates the Authorization header, returning nil when absent or
// invalid.
func (h *Handler) bearer(r *http.Request) *tokendomain.BearerToken {
	raw := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(raw) < len(prefix) || !strings.EqualFold(raw[:len(prefix)], prefix) {
		return nil
	}
	bt, err := h.tokens.ValidateAccess(r.Context(), strings.TrimSpace(raw[len(prefix):]))
	if err != nil {
		return nil
	}
	return bt
}

// actorKey resolves the authenticated caller's identity key, or "" when the
// request is anonymous.
func (h *Handler) actorKey(r *http.Request) string {
	bt := h.bearer(r)
	if bt == nil {
		return ""
	}
	key, err := h.identities.KeyByID(r.Context(), bt.OwnerID)
	if err != nil {
		return ""
	}
	return key
}

type pairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func pairJSON(p *tokendomain.Pair) *pairResponse {
	if p == nil {
		return nil
	}
	return &pairResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    p.ExpiresIn,
	}
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (h *Handler) internal(w http.ResponseWriter, err error, op string) {
	h.log.Error().Err(err).Str("op", op).Msg("request failed")
	writeJSONError(w, http.StatusInternalServerError, "internal_error", "request failed")
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

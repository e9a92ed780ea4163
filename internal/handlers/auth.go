package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/watup-lk/identity-service/internal/accountflow"
	"github.com/watup-lk/identity-service/internal/authenticator"
	"github.com/watup-lk/identity-service/internal/autherr"
	"github.com/watup-lk/identity-service/internal/config"
	"github.com/watup-lk/identity-service/internal/kafka"
	"github.com/watup-lk/identity-service/internal/middleware"
	"github.com/watup-lk/identity-service/internal/requestgate"
	"github.com/watup-lk/identity-service/internal/tokencodec"
	"github.com/watup-lk/identity-service/internal/tokenregistry"
)

const authCookieName = "kh-auth"

// AuthHandler serves the auth-relevant HTTP endpoints of §6's table.
type AuthHandler struct {
	auth     *authenticator.Authenticator
	flow     *accountflow.AccountFlow
	registry *tokenregistry.Registry
	events   *kafka.Producer
	cfg      *config.Config
}

func NewAuthHandler(auth *authenticator.Authenticator, flow *accountflow.AccountFlow, registry *tokenregistry.Registry, events *kafka.Producer, cfg *config.Config) *AuthHandler {
	return &AuthHandler{auth: auth, flow: flow, registry: registry, events: events, cfg: cfg}
}

// --- Request / response shapes ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Otp      string `json:"otp,omitempty"`
}

type tokenResponse struct {
	Version   string `json:"version"`
	Algorithm string `json:"algorithm"`
	KeyID     int64  `json:"key_id"`
	Issued    int64  `json:"issued"`
	Expires   int64  `json:"expires"`
	Token     string `json:"token"`
}

type loginResponse struct {
	UserID int64         `json:"user_id"`
	Handle string        `json:"handle,omitempty"`
	Token  tokenResponse `json:"token"`
}

type createRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type finalizeRequest struct {
	Name     string `json:"name"`
	Handle   string `json:"handle"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

type changePasswordRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	NewPassword string `json:"new_password"`
}

type botLoginRequest struct {
	Token string `json:"token"`
}

type botCreateResponse struct {
	Token string `json:"token"`
}

// botCredentialEnvelope is the JSON+base64 framing that replaces the
// source's Avro-framed bot credential token (see DESIGN.md: no Avro
// library exists anywhere in the reference pack).
type botCredentialEnvelope struct {
	BotID    int64  `json:"bot_id"`
	UserID   *int64 `json:"user_id,omitempty"`
	Password string `json:"password"`
}

func toTokenResponse(t *tokencodec.IssuedToken) tokenResponse {
	return tokenResponse{
		Version:   t.Version,
		Algorithm: t.Algorithm,
		KeyID:     t.KeyID,
		Issued:    t.Issued.Unix(),
		Expires:   t.Expires.Unix(),
		Token:     t.Token,
	}
}

func (h *AuthHandler) setAuthCookie(w http.ResponseWriter, t *tokencodec.IssuedToken) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    t.Token,
		Path:     "/",
		Expires:  t.Expires,
		Secure:   !h.cfg.Environment.IsLocal(),
		HttpOnly: !h.cfg.Environment.IsLocal(),
		SameSite: http.SameSiteStrictMode,
	})
}

// Login handles POST /v1/account/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, autherr.New(autherr.KindBadRequest, "malformed request body"))
		return
	}

	ip := clientIP(r)
	result, err := h.auth.Login(r.Context(), req.Email, req.Password, req.Otp, ip, "")
	if err != nil {
		middleware.LoginAttempts.WithLabelValues("failure").Inc()
		writeAuthError(w, err)
		return
	}
	middleware.LoginAttempts.WithLabelValues("success").Inc()
	middleware.TokensIssued.Inc()

	h.setAuthCookie(w, result.Token)
	go h.events.PublishLogin(context.Background(), result.UserID)

	writeJSON(w, http.StatusOK, loginResponse{UserID: result.UserID, Handle: result.Handle, Token: toTokenResponse(result.Token)})
}

// Logout handles POST /v1/account/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id := requestgate.FromContext(r.Context())
	if !id.Authenticated() {
		writeAuthError(w, autherr.New(autherr.KindUnauthorized, "not authenticated"))
		return
	}

	if err := h.registry.Remove(r.Context(), id.Token.Guid, id.UserID); err != nil {
		writeAuthError(w, autherr.Wrap(autherr.KindInternal, "logout failed", err))
		return
	}
	middleware.TokensRevoked.Inc()
	go h.events.PublishTokenRevoked(context.Background(), id.UserID, id.Token.Guid)

	http.SetCookie(w, &http.Cookie{Name: authCookieName, Value: "", Path: "/", Expires: time.Unix(0, 0)})
	w.WriteHeader(http.StatusNoContent)
}

// Create handles POST /v1/account/create.
func (h *AuthHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, autherr.New(autherr.KindBadRequest, "malformed request body"))
		return
	}
	if err := h.flow.CreateAccount(r.Context(), req.Email, req.Name); err != nil {
		writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Finalize handles POST /v1/account/finalize.
func (h *AuthHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, autherr.New(autherr.KindBadRequest, "malformed request body"))
		return
	}

	result, err := h.flow.FinalizeAccount(r.Context(), req.Name, req.Handle, req.Password, req.Token, clientIP(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	middleware.TokensIssued.Inc()

	h.setAuthCookie(w, result.Token)
	writeJSON(w, http.StatusOK, loginResponse{UserID: result.UserID, Handle: result.Handle, Token: toTokenResponse(result.Token)})
}

// ChangePassword handles POST /v1/account/change_password. Requires
// scope=user.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id := requestgate.FromContext(r.Context())
	if !id.VerifyScope("user") {
		writeAuthError(w, autherr.New(autherr.KindForbidden, "scope not granted"))
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, autherr.New(autherr.KindBadRequest, "malformed request body"))
		return
	}
	if err := h.auth.ChangePassword(r.Context(), req.Email, req.Password, req.NewPassword); err != nil {
		writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BotLogin handles POST /v1/account/bot_login.
func (h *AuthHandler) BotLogin(w http.ResponseWriter, r *http.Request) {
	var req botLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, autherr.New(autherr.KindBadRequest, "malformed request body"))
		return
	}

	raw, err := base64.RawURLEncoding.DecodeString(req.Token)
	if err != nil {
		writeAuthError(w, autherr.New(autherr.KindBadRequest, "malformed bot credential"))
		return
	}
	var cred botCredentialEnvelope
	if err := json.Unmarshal(raw, &cred); err != nil {
		writeAuthError(w, autherr.New(autherr.KindBadRequest, "malformed bot credential"))
		return
	}

	result, err := h.auth.BotLogin(r.Context(), cred.BotID, cred.UserID, cred.Password)
	if err != nil {
		middleware.LoginAttempts.WithLabelValues("failure").Inc()
		writeAuthError(w, err)
		return
	}
	middleware.LoginAttempts.WithLabelValues("success").Inc()
	middleware.TokensIssued.Inc()

	writeJSON(w, http.StatusOK, loginResponse{UserID: result.UserID, Token: toTokenResponse(result.Token)})
}

// BotCreate handles GET /v1/account/bot_create. Requires scope=user.
func (h *AuthHandler) BotCreate(w http.ResponseWriter, r *http.Request) {
	id := requestgate.FromContext(r.Context())
	if !id.VerifyScope("user") {
		writeAuthError(w, autherr.New(autherr.KindForbidden, "scope not granted"))
		return
	}
	h.createBot(w, r, &id.UserID, authenticator.BotTypeBot)
}

// BotInternal handles GET /v1/account/bot_internal. Requires scope=admin.
func (h *AuthHandler) BotInternal(w http.ResponseWriter, r *http.Request) {
	id := requestgate.FromContext(r.Context())
	if !id.VerifyScope("admin") {
		writeAuthError(w, autherr.New(autherr.KindForbidden, "scope not granted"))
		return
	}
	h.createBot(w, r, &id.UserID, authenticator.BotTypeInternal)
}

func (h *AuthHandler) createBot(w http.ResponseWriter, r *http.Request, userID *int64, botType string) {
	id := requestgate.FromContext(r.Context())
	cred, err := h.auth.CreateBot(r.Context(), userID, botType, id.UserID)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	envelope, err := json.Marshal(botCredentialEnvelope{BotID: cred.BotID, UserID: cred.UserID, Password: cred.Password})
	if err != nil {
		writeAuthError(w, autherr.Wrap(autherr.KindInternal, "bot credential encoding failed", err))
		return
	}

	writeJSON(w, http.StatusOK, botCreateResponse{Token: base64.RawURLEncoding.EncodeToString(envelope)})
}

// --- Helpers ---

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("cf-connecting-ip"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("x-forwarded-for"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// errorBody matches §7's error response contract.
type errorBody struct {
	Status int    `json:"status"`
	Code   string `json:"code"`
	RefID  string `json:"refid,omitempty"`
	Error  string `json:"error"`
}

func writeAuthError(w http.ResponseWriter, err error) {
	e, ok := autherr.As(err)
	if !ok {
		e = autherr.Wrap(autherr.KindInternal, "internal server error", err)
	}
	if e.Kind == autherr.KindInternal {
		if e.RefID == "" {
			raw := make([]byte, 8)
			_, _ = rand.Read(raw)
			e.RefID = hex.EncodeToString(raw)
			log.Printf("[auth] refid=%s %v", e.RefID, err)
		}
		writeJSON(w, e.Kind.Status(), errorBody{Status: e.Kind.Status(), Code: string(e.Kind), RefID: e.RefID, Error: e.Message})
		return
	}
	writeJSON(w, e.Kind.Status(), errorBody{Status: e.Kind.Status(), Code: string(e.Kind), RefID: e.RefID, Error: e.Error()})
}

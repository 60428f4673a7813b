package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/nadmax/taskboard/internal/httputil"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type SessionHandler struct {
	password     []byte
	jwtManager   *JWTManager
	secureCookie bool
	logger       *zap.Logger
}

// NewSessionHandler accepts the shared password either in plain text or as a
// bcrypt hash ($2a$, $2b$ or $2y$ prefix).
func NewSessionHandler(password string, jwtManager *JWTManager, secureCookie bool, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		password:     []byte(password),
		jwtManager:   jwtManager,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

type LoginRequest struct {
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.Login(w, r)
	case http.MethodDelete:
		h.Logout(w, r)
	default:
		httputil.WriteJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Password == "" || !h.checkPassword(req.Password) {
		h.logger.Info("rejected login attempt", zap.String("remote_addr", r.RemoteAddr))
		httputil.WriteJSONError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := h.jwtManager.GenerateToken()
	if err != nil {
		h.logger.Error("failed to generate session token", zap.Error(err))
		httputil.WriteJSONError(w, "failed to generate token", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(h.jwtManager.Expiration().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	httputil.WriteJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *SessionHandler) checkPassword(candidate string) bool {
	if isBcryptHash(h.password) {
		return bcrypt.CompareHashAndPassword(h.password, []byte(candidate)) == nil
	}

	return subtle.ConstantTimeCompare([]byte(candidate), h.password) == 1
}

func isBcryptHash(b []byte) bool {
	s := string(b)
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vedran77/nebula/internal/auth"
	"github.com/vedran77/nebula/internal/repository"
	"github.com/vedran77/nebula/internal/service"
	"github.com/vedran77/nebula/internal/transport/http/middleware"
	"github.com/vedran77/nebula/pkg/validator"
)

// AuthHandler issues session tokens for clients that reach the backend
// only through the gateway.
type AuthHandler struct {
	accounts repository.AccountRepository
	profiles repository.ProfileRepository
	issuer   *auth.TokenIssuer
	log      *slog.Logger
}

func NewAuthHandler(accounts repository.AccountRepository, profiles repository.ProfileRepository, issuer *auth.TokenIssuer, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{accounts: accounts, profiles: profiles, issuer: issuer, log: logger}
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	service.SignUpInput
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authService returns a service holding one request's session.
func (h *AuthHandler) authService() *service.AuthService {
	return service.NewAuthService(h.accounts, h.profiles, h.issuer, service.NewMemoryTokenStore(), h.log)
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var input signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	session, err := h.authService().SignUp(r.Context(), input.Email, input.Password, input.SignUpInput)
	if err != nil {
		var verrs validator.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			writeValidationErrors(w, verrs)
		case errors.Is(err, service.ErrEmailTaken):
			writeError(w, http.StatusConflict, "EMAIL_TAKEN", "Email is already registered")
		case errors.Is(err, service.ErrUsernameTaken):
			writeError(w, http.StatusConflict, "USERNAME_TAKEN", "Username is already taken")
		default:
			h.log.Error("sign up", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var input signInRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	session, err := h.authService().SignIn(r.Context(), input.Email, input.Password)
	if err != nil {
		var verrs validator.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			writeValidationErrors(w, verrs)
		case errors.Is(err, service.ErrInvalidCreds):
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		default:
			h.log.Error("sign in", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Me returns the profile behind the request's token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid token")
		return
	}

	profile, err := service.NewUserService(h.profiles, service.StaticIdentity(userID)).GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
			return
		}
		h.log.Error("loading profile", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"code":   "VALIDATION_ERROR",
			"fields": errs,
		},
	})
}

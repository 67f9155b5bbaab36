// Package httpserver exposes the sync and auth HTTP API.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/avkdev/lingsync/internal/api"
	"github.com/avkdev/lingsync/internal/errs"
	"github.com/avkdev/lingsync/internal/model"
	"github.com/avkdev/lingsync/internal/service"
)

const maxBodyBytes = 1 << 20

// Server wires services into HTTP handlers.
type Server struct {
	auth service.AuthService
	sync service.SyncService
	log  *zap.Logger
}

// New constructs a Server with injected services.
func New(auth service.AuthService, sync service.SyncService, log *zap.Logger) *Server {
	return &Server{auth: auth, sync: sync, log: log}
}

// Router builds the route table with logging, recovery and bearer auth on
// the protected subtree.
func (s *Server) Router(signKey []byte) *mux.Router {
	r := mux.NewRouter()
	r.Use(Recover(s.log), Logging(s.log))

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.handleHealthz)
	r.Methods(http.MethodPost).Path("/register").HandlerFunc(s.handleRegister)
	r.Methods(http.MethodPost).Path("/login").HandlerFunc(s.handleLogin)
	r.Methods(http.MethodPost).Path("/refresh").HandlerFunc(s.handleRefresh)
	r.Methods(http.MethodPost).Path("/logout").HandlerFunc(s.handleLogout)

	p := r.NewRoute().Subrouter()
	p.Use(Auth(signKey))
	p.Methods(http.MethodPost).Path("/languages").HandlerFunc(s.handleCreateLanguage)
	p.Methods(http.MethodPut).Path("/sync").HandlerFunc(s.handleSync)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	userID, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeServiceError(w, err, "register")
		return
	}
	writeJSON(w, http.StatusCreated, api.RegisterResponse{UserID: userID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	tok, u, err := s.auth.LoginWithIP(r.Context(), req.Username, req.Password, r.RemoteAddr)
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "bad credentials")
			return
		}
		s.writeServiceError(w, err, "login")
		return
	}
	writeJSON(w, http.StatusOK, api.LoginResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
		UserID:       u.ID.String(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req api.RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}
	tok, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		// invalid or expired token ends the session client-side
		if errors.Is(err, errs.ErrUnauthorized) {
			writeError(w, http.StatusForbidden, "invalid refresh token")
			return
		}
		s.writeServiceError(w, err, "refresh")
		return
	}
	writeJSON(w, http.StatusOK, api.RefreshResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req api.RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if err := s.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeServiceError(w, err, "logout")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateLanguage(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no auth")
		return
	}
	var req api.LanguageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	id, err := s.auth.CreateLanguage(r.Context(), userID, model.LanguageProgress{
		NativeLanguageID:   req.NativeLanguageID,
		LearningLanguageID: req.LearningLanguageID,
		ProficiencyLevel:   req.ProficiencyLevel,
	})
	if err != nil {
		s.writeServiceError(w, err, "create language")
		return
	}
	writeJSON(w, http.StatusCreated, api.LanguageResponse{UserLanguagesID: id})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no auth")
		return
	}
	var req api.SyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	resp, err := s.sync.Apply(r.Context(), userID, &req)
	if err != nil {
		s.writeServiceError(w, err, "sync")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps service sentinels to HTTP statuses. Internal error
// detail stays in the log, never in the response body.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, errs.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	default:
		s.log.Error(op, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

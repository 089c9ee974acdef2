package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/onboarding"
)

const defaultInviteTTLDays = 30

// InviteAdmin is the invite-code store slice behind the admin endpoints.
type InviteAdmin interface {
	Create(ctx context.Context, code *database.InviteCode) error
	List(ctx context.Context) ([]*database.InviteCode, error)
	Revoke(ctx context.Context, code string) error
}

// adminAuth guards a handler with the bcrypt-hashed admin password,
// presented as a Bearer token. No hash configured means the surface is
// disabled entirely.
func (s *Server) adminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminHash == "" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || bcrypt.CompareHashAndPassword([]byte(s.adminHash), []byte(token)) != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

type createInviteRequest struct {
	Note          string `json:"note,omitempty"`
	ExpiresInDays int    `json:"expiresInDays,omitempty"`
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	// An empty body is fine; every field has a default.
	var req createInviteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTaskBody))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request"})
		return
	}
	ttl := req.ExpiresInDays
	if ttl <= 0 {
		ttl = defaultInviteTTLDays
	}

	code, err := onboarding.GenerateCode()
	if err != nil {
		s.log.Errorw("invite code generation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "code generation failed"})
		return
	}
	now := time.Now().UTC()
	invite := &database.InviteCode{
		Code:      code,
		CreatedBy: "admin",
		CreatedAt: now,
		ExpiresAt: now.AddDate(0, 0, ttl),
		Note:      req.Note,
	}
	if err := s.invites.Create(r.Context(), invite); err != nil {
		s.log.Errorw("invite code create failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create failed"})
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	codes, err := s.invites.List(r.Context())
	if err != nil {
		s.log.Errorw("invite code list failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list failed"})
		return
	}
	if codes == nil {
		codes = []*database.InviteCode{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"codes": codes})
}

func (s *Server) handleRevokeInvite(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(mux.Vars(r)["code"])
	if !onboarding.ValidCodeFormat(code) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed code"})
		return
	}
	switch err := s.invites.Revoke(r.Context(), code); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, database.ErrCodeInvalid):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown code"})
	case errors.Is(err, database.ErrCodeUsed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "code already used"})
	default:
		s.log.Errorw("invite code revoke failed", "code", code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "revoke failed"})
	}
}

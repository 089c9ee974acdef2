// Package ingest is the webhook-facing service: it authenticates the
// secret path, parses the update envelope, classifies it, and enqueues a
// typed worker task. No business logic runs here; the chat platform
// retries undelivered webhooks, so acknowledging fast is the contract.
package ingest

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"

	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/telegram"
)

const (
	cacheTTL     = 5 * time.Minute
	cacheSweep   = 10 * time.Minute
	maxBodyBytes = 1 << 20
)

type Server struct {
	secret      string
	queue       Enqueuer
	tenants     TenantChecker
	onboarding  OnboardingReader
	genSessions GenSessionReader
	log         *logging.Logger
	startedAt   time.Time

	// Read-through caches over Firestore; entries expire after 5 minutes
	// and a janitor sweeps them. Failures fall back to "not approved" /
	// "no session".
	approved      *cache.Cache
	onboardActive *cache.Cache
	genActive     *cache.Cache
}

func NewServer(secret string, queue Enqueuer, tenants TenantChecker, onboarding OnboardingReader, genSessions GenSessionReader, log *logging.Logger) *Server {
	return &Server{
		secret:        secret,
		queue:         queue,
		tenants:       tenants,
		onboarding:    onboarding,
		genSessions:   genSessions,
		log:           log,
		startedAt:     time.Now(),
		approved:      cache.New(cacheTTL, cacheSweep),
		onboardActive: cache.New(cacheTTL, cacheSweep),
		genActive:     cache.New(cacheTTL, cacheSweep),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/webhook/{secret}", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	// Constant-time compare; mismatches get a featureless 404 so the
	// webhook path stays unguessable.
	supplied := mux.Vars(r)["secret"]
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.secret)) != 1 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}

	var update telegram.Update
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed update"})
		return
	}

	ctx := logging.WithLogger(r.Context(), s.log.With("update_id", update.UpdateID))
	d := s.classify(ctx, &update)

	if d.route != "" {
		if err := s.queue.Enqueue(ctx, d.route, d.payload); err != nil {
			s.log.Errorw("enqueue failed", "route", d.route, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "action": d.action})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "ingest",
		"uptime":    time.Since(s.startedAt).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Package worker is the task-executing service. Cloud Tasks POSTs typed
// payloads to the /tasks/* routes; each handler decodes its payload and
// dispatches to the owning component. A 2xx acknowledges the task, a 5xx
// asks the queue to redeliver.
package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/queue"
	"github.com/kvitly/backend/internal/report"
)

const maxTaskBody = 1 << 20

// retryCountHeader carries the zero-based count of previous delivery
// attempts for the current task.
const retryCountHeader = "X-CloudTasks-TaskRetryCount"

// IngestProcessor runs the document pipeline.
type IngestProcessor interface {
	Process(ctx context.Context, task *queue.IngestTask, finalAttempt bool) error
	ResolveCallback(ctx context.Context, task *queue.CallbackTask) error
}

// OnboardingHandler drives the onboarding conversation.
type OnboardingHandler interface {
	HandleCommand(ctx context.Context, task *queue.OnboardCommandTask) error
	HandleMessage(ctx context.Context, task *queue.OnboardMessageTask) error
	HandlePhoto(ctx context.Context, task *queue.OnboardPhotoTask) error
}

// InvoiceGenHandler drives the invoice-generation conversation.
type InvoiceGenHandler interface {
	HandleCommand(ctx context.Context, task *queue.InvoiceCommandTask) error
	HandleMessage(ctx context.Context, task *queue.InvoiceMessageTask) error
	HandleCallback(ctx context.Context, task *queue.InvoiceCallbackTask) error
}

// Reporter serves the metrics snapshot and the /report summary.
type Reporter interface {
	Metrics(ctx context.Context) (*report.Snapshot, error)
	MonthlySummary(ctx context.Context, task *queue.InvoiceCommandTask) error
}

type Server struct {
	pipeline   IngestProcessor
	onboarding OnboardingHandler
	invoicegen InvoiceGenHandler
	reports    Reporter
	invites    InviteAdmin
	log        *logging.Logger

	maxRetries int
	adminHash  string
	startedAt  time.Time
}

func NewServer(pipeline IngestProcessor, onboarding OnboardingHandler, invoicegen InvoiceGenHandler, reports Reporter, invites InviteAdmin, maxRetries int, adminHash string, log *logging.Logger) *Server {
	return &Server{
		pipeline:   pipeline,
		onboarding: onboarding,
		invoicegen: invoicegen,
		reports:    reports,
		invites:    invites,
		log:        log,
		maxRetries: maxRetries,
		adminHash:  adminHash,
		startedAt:  time.Now(),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc(queue.RouteIngest, s.handleIngest).Methods(http.MethodPost)
	r.HandleFunc(queue.RouteCallback, s.handleCallback).Methods(http.MethodPost)
	r.HandleFunc(queue.RouteOnboard, s.handleOnboard).Methods(http.MethodPost)
	r.HandleFunc(queue.RouteOnboardMessage, s.handleOnboardMessage).Methods(http.MethodPost)
	r.HandleFunc(queue.RouteOnboardPhoto, s.handleOnboardPhoto).Methods(http.MethodPost)
	r.HandleFunc(queue.RouteInvoiceCommand, s.handleInvoiceCommand).Methods(http.MethodPost)
	r.HandleFunc(queue.RouteInvoiceMessage, s.handleInvoiceMessage).Methods(http.MethodPost)
	r.HandleFunc(queue.RouteInvoiceCallback, s.handleInvoiceCallback).Methods(http.MethodPost)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.Handle("/metrics/prometheus", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/admin/invite-codes", s.adminAuth(s.handleCreateInvite)).Methods(http.MethodPost)
	r.HandleFunc("/admin/invite-codes", s.adminAuth(s.handleListInvites)).Methods(http.MethodGet)
	r.HandleFunc("/admin/invite-codes/{code}", s.adminAuth(s.handleRevokeInvite)).Methods(http.MethodDelete)

	return r
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var task queue.IngestTask
	if !decodeTask(w, r, &task) {
		return
	}
	s.finish(w, r, s.pipeline.Process(taskContext(r, s.log), &task, s.finalAttempt(r)))
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var task queue.CallbackTask
	if !decodeTask(w, r, &task) {
		return
	}
	s.finish(w, r, s.pipeline.ResolveCallback(taskContext(r, s.log), &task))
}

func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	var task queue.OnboardCommandTask
	if !decodeTask(w, r, &task) {
		return
	}
	s.finish(w, r, s.onboarding.HandleCommand(taskContext(r, s.log), &task))
}

func (s *Server) handleOnboardMessage(w http.ResponseWriter, r *http.Request) {
	var task queue.OnboardMessageTask
	if !decodeTask(w, r, &task) {
		return
	}
	s.finish(w, r, s.onboarding.HandleMessage(taskContext(r, s.log), &task))
}

func (s *Server) handleOnboardPhoto(w http.ResponseWriter, r *http.Request) {
	var task queue.OnboardPhotoTask
	if !decodeTask(w, r, &task) {
		return
	}
	s.finish(w, r, s.onboarding.HandlePhoto(taskContext(r, s.log), &task))
}

// handleInvoiceCommand fans /invoice and /report out to their owners; the
// two commands share a payload shape.
func (s *Server) handleInvoiceCommand(w http.ResponseWriter, r *http.Request) {
	var task queue.InvoiceCommandTask
	if !decodeTask(w, r, &task) {
		return
	}
	ctx := taskContext(r, s.log)
	switch task.Command {
	case "report":
		s.finish(w, r, s.reports.MonthlySummary(ctx, &task))
	default:
		s.finish(w, r, s.invoicegen.HandleCommand(ctx, &task))
	}
}

func (s *Server) handleInvoiceMessage(w http.ResponseWriter, r *http.Request) {
	var task queue.InvoiceMessageTask
	if !decodeTask(w, r, &task) {
		return
	}
	s.finish(w, r, s.invoicegen.HandleMessage(taskContext(r, s.log), &task))
}

func (s *Server) handleInvoiceCallback(w http.ResponseWriter, r *http.Request) {
	var task queue.InvoiceCallbackTask
	if !decodeTask(w, r, &task) {
		return
	}
	s.finish(w, r, s.invoicegen.HandleCallback(taskContext(r, s.log), &task))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "worker",
		"uptime":    time.Since(s.startedAt).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reports.Metrics(r.Context())
	if err != nil {
		s.log.Errorw("metrics snapshot failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "metrics unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// finalAttempt reports whether the queue will not redeliver after this
// attempt, reading the retry counter the queue stamps on each delivery.
func (s *Server) finalAttempt(r *http.Request) bool {
	n, err := strconv.Atoi(r.Header.Get(retryCountHeader))
	if err != nil {
		return false
	}
	return n >= s.maxRetries-1
}

// finish translates a handler result into the queue's retry protocol.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.log.Errorw("task failed", "route", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func decodeTask(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTaskBody))
	if err := dec.Decode(v); err != nil {
		// A malformed body never fixes itself on retry; ack it away.
		writeJSON(w, http.StatusOK, map[string]string{"error": "malformed task body"})
		return false
	}
	return true
}

func taskContext(r *http.Request, log *logging.Logger) context.Context {
	return logging.WithLogger(r.Context(), log)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/document"
	"github.com/kvitly/backend/internal/invoicegen"
	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/onboarding"
	"github.com/kvitly/backend/internal/pipeline"
	"github.com/kvitly/backend/internal/queue"
	"github.com/kvitly/backend/internal/telegram"
)

// Webhook response actions.
const (
	actionEnqueued         = "enqueued"
	actionCallbackEnqueued = "callback_enqueued"
	actionIgnored          = "ignored"
	actionIgnoredCommand   = "ignored_command"
	actionRejectedSize     = "rejected_size_limit"
)

// Enqueuer hands tasks to the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, route string, payload interface{}) error
}

// TenantChecker answers whether a tenant may enqueue ingest work.
type TenantChecker interface {
	IsActive(ctx context.Context, tenantID int64) (bool, error)
}

// OnboardingReader reads onboarding sessions for routing decisions.
type OnboardingReader interface {
	Get(ctx context.Context, tenantID int64) (*database.OnboardingSession, error)
}

// GenSessionReader reads invoice-generation sessions for routing decisions.
type GenSessionReader interface {
	Get(ctx context.Context, tenantID, userID int64) (*database.InvoiceGenSession, error)
}

// decision is one classified update: the response action plus, when work
// is due, the queue route and its payload.
type decision struct {
	action  string
	route   string
	payload interface{}
}

func ignore(action string) decision { return decision{action: action} }

// classify implements the routing table. It never executes business
// logic; every outcome is either a queue write or an ignore.
func (s *Server) classify(ctx context.Context, u *telegram.Update) decision {
	if u.CallbackQuery != nil {
		return s.classifyCallback(ctx, u)
	}

	msg := u.Message
	if msg == nil || msg.From == nil {
		return ignore(actionIgnored)
	}
	tenantID := msg.Chat.ID
	userID := msg.From.ID

	if cmd, arg := msg.Command(); cmd != "" {
		return s.classifyCommand(ctx, msg, cmd, arg)
	}

	if len(msg.Photo) > 0 {
		return s.classifyPhoto(ctx, msg)
	}
	if msg.Document != nil {
		return s.classifyDocument(ctx, msg)
	}

	if msg.Text != "" {
		if s.onboardingActive(ctx, tenantID) {
			return decision{action: actionEnqueued, route: queue.RouteOnboardMessage, payload: &queue.OnboardMessageTask{
				TenantID: tenantID, UserID: userID, Text: msg.Text, MessageID: msg.MessageID,
			}}
		}
		if s.genSessionActive(ctx, tenantID, userID) {
			return decision{action: actionEnqueued, route: queue.RouteInvoiceMessage, payload: &queue.InvoiceMessageTask{
				TenantID: tenantID, UserID: userID, Text: msg.Text,
			}}
		}
	}
	return ignore(actionIgnored)
}

func (s *Server) classifyCallback(ctx context.Context, u *telegram.Update) decision {
	cq := u.CallbackQuery
	if cq.Message == nil {
		return ignore(actionIgnored)
	}
	tenantID := cq.Message.Chat.ID
	userID := cq.From.ID

	switch {
	case pipeline.IsDuplicateCallback(cq.Data):
		return decision{action: actionCallbackEnqueued, route: queue.RouteCallback, payload: &queue.CallbackTask{
			UpdateID: u.UpdateID, CallbackID: cq.ID, TenantID: tenantID,
			MessageID: cq.Message.MessageID, UserID: userID, Data: cq.Data,
		}}
	case invoicegen.IsCallback(cq.Data):
		return decision{action: actionCallbackEnqueued, route: queue.RouteInvoiceCallback, payload: &queue.InvoiceCallbackTask{
			UpdateID: u.UpdateID, CallbackID: cq.ID, TenantID: tenantID,
			UserID: userID, MessageID: cq.Message.MessageID, Data: cq.Data,
		}}
	case onboarding.IsCallback(cq.Data):
		return decision{action: actionCallbackEnqueued, route: queue.RouteOnboardMessage, payload: &queue.OnboardMessageTask{
			TenantID: tenantID, UserID: userID, UpdateID: u.UpdateID,
			CallbackID: cq.ID, Data: cq.Data, MessageID: cq.Message.MessageID,
		}}
	}
	return ignore(actionIgnored)
}

func (s *Server) classifyCommand(ctx context.Context, msg *telegram.Message, cmd, arg string) decision {
	tenantID := msg.Chat.ID
	userID := msg.From.ID

	switch cmd {
	case "/onboard":
		// Admission (invite codes, rate limits) is the worker's call.
		return decision{action: actionEnqueued, route: queue.RouteOnboard, payload: &queue.OnboardCommandTask{
			TenantID: tenantID, UserID: userID, ChatTitle: msg.Chat.Title, Arg: arg,
		}}

	case "/invoice", "/report":
		if !s.tenantApproved(ctx, tenantID) {
			return ignore(actionIgnoredCommand)
		}
		return decision{action: actionEnqueued, route: queue.RouteInvoiceCommand, payload: &queue.InvoiceCommandTask{
			Command:  strings.TrimPrefix(cmd, "/"),
			TenantID: tenantID, UserID: userID,
			Username: msg.From.Username, ChatTitle: msg.Chat.Title,
		}}

	case "/cancel", "/skip":
		// Session-scoped commands travel as conversational text so the
		// owning state machine interprets them.
		if s.onboardingActive(ctx, tenantID) {
			return decision{action: actionEnqueued, route: queue.RouteOnboardMessage, payload: &queue.OnboardMessageTask{
				TenantID: tenantID, UserID: userID, Text: cmd, MessageID: msg.MessageID,
			}}
		}
		if cmd == "/cancel" && s.genSessionActive(ctx, tenantID, userID) {
			return decision{action: actionEnqueued, route: queue.RouteInvoiceMessage, payload: &queue.InvoiceMessageTask{
				TenantID: tenantID, UserID: userID, Text: cmd,
			}}
		}
		return ignore(actionIgnoredCommand)
	}
	return ignore(actionIgnoredCommand)
}

func (s *Server) classifyPhoto(ctx context.Context, msg *telegram.Message) decision {
	tenantID := msg.Chat.ID
	photo := msg.LargestPhoto()

	if s.onboardingActive(ctx, tenantID) {
		return decision{action: actionEnqueued, route: queue.RouteOnboardPhoto, payload: &queue.OnboardPhotoTask{
			TenantID: tenantID, UserID: msg.From.ID, FileID: photo.FileID, MimeType: "image/jpeg",
		}}
	}
	if !s.tenantApproved(ctx, tenantID) {
		return ignore(actionIgnored)
	}
	if photo.FileSize > document.MaxFileSize {
		return ignore(actionRejectedSize)
	}
	return decision{action: actionEnqueued, route: queue.RouteIngest, payload: s.ingestTask(msg, photo.FileID, "", "image/jpeg")}
}

func (s *Server) classifyDocument(ctx context.Context, msg *telegram.Message) decision {
	tenantID := msg.Chat.ID
	doc := msg.Document
	isImage := strings.HasPrefix(doc.MimeType, "image/")
	isPDF := doc.MimeType == "application/pdf"

	if isImage && s.onboardingActive(ctx, tenantID) {
		return decision{action: actionEnqueued, route: queue.RouteOnboardPhoto, payload: &queue.OnboardPhotoTask{
			TenantID: tenantID, UserID: msg.From.ID, FileID: doc.FileID,
			FileName: doc.FileName, MimeType: doc.MimeType,
		}}
	}
	if !isPDF && !isImage {
		return ignore(actionIgnored)
	}
	if !s.tenantApproved(ctx, tenantID) {
		return ignore(actionIgnored)
	}
	if doc.FileSize > document.MaxFileSize {
		return ignore(actionRejectedSize)
	}
	return decision{action: actionEnqueued, route: queue.RouteIngest, payload: s.ingestTask(msg, doc.FileID, doc.FileName, doc.MimeType)}
}

func (s *Server) ingestTask(msg *telegram.Message, fileID, fileName, mimeType string) *queue.IngestTask {
	return &queue.IngestTask{
		TenantID:          msg.Chat.ID,
		MessageID:         msg.MessageID,
		FileID:            fileID,
		FileName:          fileName,
		MimeType:          mimeType,
		ChatTitle:         msg.Chat.Title,
		UploaderUsername:  msg.From.Username,
		UploaderFirstName: msg.From.FirstName,
		ReceivedAt:        time.Now().UTC(),
	}
}

// tenantApproved is the cached admission check. Store failures fail safe:
// not approved.
func (s *Server) tenantApproved(ctx context.Context, tenantID int64) bool {
	key := fmt.Sprintf("%d", tenantID)
	if v, ok := s.approved.Get(key); ok {
		return v.(bool)
	}
	active, err := s.tenants.IsActive(ctx, tenantID)
	if err != nil {
		logging.FromContext(ctx).Warnw("tenant check failed", "tenant_id", tenantID, "error", err)
		return false
	}
	s.approved.SetDefault(key, active)
	return active
}

// onboardingActive is the cached session check. Store failures fail safe:
// not onboarding.
func (s *Server) onboardingActive(ctx context.Context, tenantID int64) bool {
	key := fmt.Sprintf("%d", tenantID)
	if v, ok := s.onboardActive.Get(key); ok {
		return v.(bool)
	}
	sess, err := s.onboarding.Get(ctx, tenantID)
	if err != nil {
		logging.FromContext(ctx).Warnw("onboarding check failed", "tenant_id", tenantID, "error", err)
		return false
	}
	active := sess != nil && sess.Active
	s.onboardActive.SetDefault(key, active)
	return active
}

func (s *Server) genSessionActive(ctx context.Context, tenantID, userID int64) bool {
	key := fmt.Sprintf("%d_%d", tenantID, userID)
	if v, ok := s.genActive.Get(key); ok {
		return v.(bool)
	}
	sess, err := s.genSessions.Get(ctx, tenantID, userID)
	if err != nil {
		logging.FromContext(ctx).Warnw("invoicegen session check failed", "tenant_id", tenantID, "error", err)
		return false
	}
	s.genActive.SetDefault(key, sess != nil)
	return sess != nil
}

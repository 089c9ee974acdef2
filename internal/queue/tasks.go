// Package queue enqueues typed worker tasks on Cloud Tasks. Each payload
// type maps to exactly one worker route; the worker decodes the body back
// into the same struct.
package queue

import "time"

// Worker routes, one per task type.
const (
	RouteIngest          = "/tasks/ingest"
	RouteCallback        = "/tasks/callback"
	RouteOnboard         = "/tasks/onboard"
	RouteOnboardMessage  = "/tasks/onboard-message"
	RouteOnboardPhoto    = "/tasks/onboard-photo"
	RouteInvoiceCommand  = "/tasks/invoice-command"
	RouteInvoiceMessage  = "/tasks/invoice-message"
	RouteInvoiceCallback = "/tasks/invoice-callback"
)

// IngestTask carries one inbound document through the pipeline.
type IngestTask struct {
	TenantID          int64     `json:"tenantId"`
	MessageID         int64     `json:"messageId"`
	FileID            string    `json:"fileId"`
	FileName          string    `json:"fileName,omitempty"`
	MimeType          string    `json:"mimeType,omitempty"`
	ChatTitle         string    `json:"chatTitle,omitempty"`
	UploaderUsername  string    `json:"uploaderUsername,omitempty"`
	UploaderFirstName string    `json:"uploaderFirstName,omitempty"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

// CallbackTask resolves a duplicate-decision button press.
type CallbackTask struct {
	UpdateID   int64  `json:"updateId"`
	CallbackID string `json:"callbackId"`
	TenantID   int64  `json:"tenantId"`
	MessageID  int64  `json:"messageId"` // message carrying the pressed button
	UserID     int64  `json:"userId"`
	Data       string `json:"data"`
}

// OnboardCommandTask starts or restarts onboarding; Arg carries the invite
// code when one was supplied.
type OnboardCommandTask struct {
	TenantID  int64  `json:"tenantId"`
	UserID    int64  `json:"userId"`
	ChatTitle string `json:"chatTitle,omitempty"`
	Arg       string `json:"arg,omitempty"`
}

// OnboardMessageTask advances an onboarding session with a text answer, or
// with an inline-button press when CallbackID is set.
type OnboardMessageTask struct {
	TenantID   int64  `json:"tenantId"`
	UserID     int64  `json:"userId"`
	Text       string `json:"text,omitempty"`
	UpdateID   int64  `json:"updateId,omitempty"`
	CallbackID string `json:"callbackId,omitempty"`
	Data       string `json:"data,omitempty"`
	MessageID  int64  `json:"messageId,omitempty"`
}

// OnboardPhotoTask advances the logo step with an uploaded image.
type OnboardPhotoTask struct {
	TenantID int64  `json:"tenantId"`
	UserID   int64  `json:"userId"`
	FileID   string `json:"fileId"`
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// InvoiceCommandTask handles /invoice and /report.
type InvoiceCommandTask struct {
	Command   string `json:"command"` // "invoice" or "report"
	TenantID  int64  `json:"tenantId"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username,omitempty"`
	ChatTitle string `json:"chatTitle,omitempty"`
}

// InvoiceMessageTask advances an invoice-generation session with text.
type InvoiceMessageTask struct {
	TenantID int64  `json:"tenantId"`
	UserID   int64  `json:"userId"`
	Text     string `json:"text"`
}

// InvoiceCallbackTask advances an invoice-generation session with a button
// press.
type InvoiceCallbackTask struct {
	UpdateID   int64  `json:"updateId"`
	CallbackID string `json:"callbackId"`
	TenantID   int64  `json:"tenantId"`
	UserID     int64  `json:"userId"`
	MessageID  int64  `json:"messageId"`
	Data       string `json:"data"`
}

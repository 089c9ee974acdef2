package database

import "time"

// ===== TENANTS =====

const (
	TenantActive    = "active"
	TenantSuspended = "suspended"
	TenantBanned    = "banned"
)

const (
	ApprovalInviteCode = "invite_code"
	ApprovalManual     = "manual"
	ApprovalMigration  = "migration"
)

type Tenant struct {
	TenantID   int64      `firestore:"tenantId"`
	Title      string     `firestore:"title,omitempty"`
	Status     string     `firestore:"status"`
	ApprovedAt time.Time  `firestore:"approvedAt"`
	ApprovedBy ApprovedBy `firestore:"approvedBy"`
}

type ApprovedBy struct {
	Method string `firestore:"method"`
	Code   string `firestore:"code,omitempty"`
	Actor  string `firestore:"actor,omitempty"`
}

// ===== INVITE CODES =====

type InviteCode struct {
	Code      string     `firestore:"code"`
	CreatedBy string     `firestore:"createdBy"`
	CreatedAt time.Time  `firestore:"createdAt"`
	ExpiresAt time.Time  `firestore:"expiresAt"`
	Used      bool       `firestore:"used"`
	UsedBy    *CodeUsage `firestore:"usedBy,omitempty"`
	Revoked   bool       `firestore:"revoked"`
	Note      string     `firestore:"note,omitempty"`
}

type CodeUsage struct {
	TenantID int64     `firestore:"tenantId"`
	Title    string    `firestore:"title,omitempty"`
	At       time.Time `firestore:"at"`
}

// InviteAttempt rate-limits failed code redemptions per tenant.
type InviteAttempt struct {
	TenantID    int64     `firestore:"tenantId"`
	Count       int       `firestore:"count"`
	WindowStart time.Time `firestore:"windowStart"`
}

// ===== BUSINESS CONFIG =====

const (
	TaxStatusLicensed = "licensed"
	TaxStatusExempt   = "exempt"
)

type BusinessConfig struct {
	TenantID  int64           `firestore:"tenantId"`
	Language  string          `firestore:"language"`
	Business  BusinessProfile `firestore:"business"`
	Invoice   InvoiceBranding `firestore:"invoice"`
	CreatedAt time.Time       `firestore:"createdAt"`
	UpdatedAt time.Time       `firestore:"updatedAt"`
}

type BusinessProfile struct {
	Name      string `firestore:"name"`
	OwnerName string `firestore:"ownerName,omitempty"`
	TaxID     string `firestore:"taxId"`
	TaxStatus string `firestore:"taxStatus"`
	Email     string `firestore:"email"`
	Phone     string `firestore:"phone"`
	Address   string `firestore:"address"`
	LogoURL   string `firestore:"logoUrl,omitempty"`
	LogoPath  string `firestore:"logoPath,omitempty"`
	SheetID   string `firestore:"sheetId,omitempty"`
}

type InvoiceBranding struct {
	DigitalSignatureText string `firestore:"digitalSignatureText,omitempty"`
	GeneratedByText      string `firestore:"generatedByText,omitempty"`
}

// ===== INGEST JOBS =====

type JobStatus string

const (
	StatusProcessing      JobStatus = "processing"
	StatusProcessed       JobStatus = "processed"
	StatusFailed          JobStatus = "failed"
	StatusPendingRetry    JobStatus = "pending_retry"
	StatusPendingDecision JobStatus = "pending_decision"
	StatusRejected        JobStatus = "rejected"
)

// IsTerminal reports whether a job can never be claimed again.
func (s JobStatus) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed || s == StatusRejected
}

// Progress markers recorded on the job as steps complete.
const (
	StepDownload  = "download"
	StepDrive     = "drive"
	StepLLM       = "llm"
	StepDuplicate = "duplicate_check"
	StepSheets    = "sheets"
	StepAck       = "ack"
	StepRejected  = "rejected"
)

type IngestJob struct {
	ID         string      `firestore:"-"`
	TenantID   int64       `firestore:"tenantId"`
	MessageID  int64       `firestore:"messageId"`
	Status     JobStatus   `firestore:"status"`
	Attempts   int         `firestore:"attempts"`
	CreatedAt  time.Time   `firestore:"createdAt"`
	UpdatedAt  time.Time   `firestore:"updatedAt"`
	ReceivedAt time.Time   `firestore:"receivedAt"`
	Source     JobSource   `firestore:"source"`
	Progress   JobProgress `firestore:"progress"`
	Result     JobResult   `firestore:"result"`
	Extraction *Extraction `firestore:"extraction,omitempty"`
	Decision   JobDecision `firestore:"decision"`
}

type JobSource struct {
	FileID            string `firestore:"fileId"`
	ChatTitle         string `firestore:"chatTitle,omitempty"`
	UploaderUsername  string `firestore:"uploaderUsername,omitempty"`
	UploaderFirstName string `firestore:"uploaderFirstName,omitempty"`
}

type JobProgress struct {
	LastStep  string `firestore:"lastStep,omitempty"`
	LastError string `firestore:"lastError,omitempty"`
}

// Result field names predate the move to GCS and are kept for document
// compatibility; driveFileId holds the object path, driveLink its URL.
type JobResult struct {
	DriveFileID string `firestore:"driveFileId,omitempty"`
	DriveLink   string `firestore:"driveLink,omitempty"`
	SheetRowID  string `firestore:"sheetRowId,omitempty"`
}

type Extraction struct {
	IsInvoice       bool     `firestore:"isInvoice"`
	RejectionReason string   `firestore:"rejectionReason,omitempty"`
	VendorName      string   `firestore:"vendorName,omitempty"`
	InvoiceNumber   string   `firestore:"invoiceNumber,omitempty"`
	InvoiceDate     string   `firestore:"invoiceDate,omitempty"`
	TotalAmount     *float64 `firestore:"totalAmount,omitempty"`
	Currency        string   `firestore:"currency,omitempty"`
	VATAmount       *float64 `firestore:"vatAmount,omitempty"`
	Confidence      float64  `firestore:"confidence"`
	Category        string   `firestore:"category,omitempty"`
}

// NeedsReview flags rows a human should look at; it never blocks the
// pipeline.
func (e *Extraction) NeedsReview() bool {
	return e.Confidence < 0.6 || e.TotalAmount == nil
}

const (
	ResolutionKeepBoth  = "keep_both"
	ResolutionDeleteNew = "delete_new"
)

type JobDecision struct {
	DuplicateOfJobID string  `firestore:"duplicateOfJobId,omitempty"`
	WarningMessageID int64   `firestore:"warningMessageId,omitempty"`
	Resolution       string  `firestore:"resolution,omitempty"`
	Provider         string  `firestore:"provider,omitempty"`
	InputTokens      int     `firestore:"inputTokens,omitempty"`
	OutputTokens     int     `firestore:"outputTokens,omitempty"`
	CostUSD          float64 `firestore:"costUsd,omitempty"`
}

// ===== GENERATED INVOICES =====

const (
	DocTypeInvoice        = "invoice"
	DocTypeInvoiceReceipt = "invoice_receipt"
)

const (
	PaymentCash         = "cash"
	PaymentCreditCard   = "credit_card"
	PaymentBankTransfer = "bank_transfer"
	PaymentBit          = "bit"
	PaymentCheck        = "check"
)

type GeneratedInvoice struct {
	TenantID      int64     `firestore:"tenantId"`
	InvoiceNumber string    `firestore:"invoiceNumber"`
	DocumentType  string    `firestore:"documentType"`
	Customer      Customer  `firestore:"customer"`
	Description   string    `firestore:"description"`
	Amount        float64   `firestore:"amount"`
	Currency      string    `firestore:"currency"`
	PaymentMethod string    `firestore:"paymentMethod"`
	Date          string    `firestore:"date"` // display format DD/MM/YYYY
	GeneratedAt   time.Time `firestore:"generatedAt,serverTimestamp"`
	GeneratedBy   IssuedBy  `firestore:"generatedBy"`
	StoragePath   string    `firestore:"storagePath"`
	StorageURL    string    `firestore:"storageUrl"`
}

type Customer struct {
	Name  string `firestore:"name"`
	TaxID string `firestore:"taxId,omitempty"`
}

type IssuedBy struct {
	UserID   int64  `firestore:"userId"`
	Username string `firestore:"username,omitempty"`
	TenantID int64  `firestore:"tenantId"`
}

// ===== COUNTERS =====

type InvoiceCounter struct {
	TenantID    int64     `firestore:"tenantId"`
	Year        int       `firestore:"year"`
	Counter     int64     `firestore:"counter"`
	LastUpdated time.Time `firestore:"lastUpdated"`
}

// ===== SESSIONS =====

// Onboarding steps in order. The session stores the step it is waiting on.
const (
	OnboardStepLanguage     = "language"
	OnboardStepBusinessName = "business_name"
	OnboardStepOwnerDetails = "owner_details"
	OnboardStepAddress      = "address"
	OnboardStepTaxStatus    = "tax_status"
	OnboardStepLogo         = "logo"
	OnboardStepSheet        = "sheet"
	OnboardStepCounter      = "counter"
	OnboardStepComplete     = "complete"
)

type OnboardingSession struct {
	TenantID  int64             `firestore:"tenantId"`
	UserID    int64             `firestore:"userId"`
	ChatTitle string            `firestore:"chatTitle,omitempty"`
	Step      string            `firestore:"step"`
	Language  string            `firestore:"language"`
	Data      map[string]string `firestore:"data"`
	Active    bool              `firestore:"active"`
	CreatedAt time.Time         `firestore:"createdAt"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

// Invoice generation session states.
const (
	GenStateSelectType      = "select_type"
	GenStateAwaitingDetails = "awaiting_details"
	GenStateAwaitingPayment = "awaiting_payment"
	GenStateConfirming      = "confirming"
)

type InvoiceGenSession struct {
	TenantID      int64     `firestore:"tenantId"`
	UserID        int64     `firestore:"userId"`
	Username      string    `firestore:"username,omitempty"`
	Status        string    `firestore:"status"`
	DocumentType  string    `firestore:"documentType,omitempty"`
	CustomerName  string    `firestore:"customerName,omitempty"`
	CustomerTaxID string    `firestore:"customerTaxId,omitempty"`
	Amount        string    `firestore:"amount,omitempty"` // canonical decimal string
	Description   string    `firestore:"description,omitempty"`
	PaymentMethod string    `firestore:"paymentMethod,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

type CallbackDedup struct {
	UpdateID    int64     `firestore:"updateId"`
	ProcessedAt time.Time `firestore:"processedAt"`
	ExpiresAt   time.Time `firestore:"expiresAt"`
}

// ===== USER-TENANT MAPPING =====

type UserTenantMapping struct {
	UserID  int64        `firestore:"userId"`
	Tenants []UserTenant `firestore:"tenants"`
}

type UserTenant struct {
	TenantID int64     `firestore:"tenantId"`
	Title    string    `firestore:"title,omitempty"`
	AddedAt  time.Time `firestore:"addedAt"`
	AddedBy  string    `firestore:"addedBy,omitempty"`
}

func (m *UserTenantMapping) upsert(t UserTenant) {
	for i := range m.Tenants {
		if m.Tenants[i].TenantID == t.TenantID {
			m.Tenants[i].Title = t.Title
			return
		}
	}
	m.Tenants = append(m.Tenants, t)
}

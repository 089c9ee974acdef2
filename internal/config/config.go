package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Role selects which subset of the configuration a service must have.
type Role string

const (
	RoleIngest Role = "ingest"
	RoleWorker Role = "worker"
)

type Config struct {
	Port        string
	Environment string
	ProjectID   string

	// Chat platform
	BotToken      string
	WebhookSecret string

	// Object store
	InvoicesBucket string
	LogosBucket    string

	// LLM providers
	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIModel  string

	// Task queue
	QueueName           string
	QueueLocation       string
	WorkerBaseURL       string
	ServiceAccountEmail string
	MaxRetries          int

	// Spreadsheets
	AdminSpreadsheetID string

	// Invoice rendering. ChromeWSURL points at a headless Chrome devtools
	// websocket; RendererURL is an HTTP convert endpoint used when no
	// websocket is configured.
	ChromeWSURL string
	RendererURL string

	// Optional lifecycle event topic. Empty disables publishing.
	EventsTopic string

	// bcrypt hash guarding the admin endpoints
	AdminPasswordHash string
}

// Load reads the configuration from the environment. It never fails;
// Validate reports what is missing for the given role.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		ProjectID:   os.Getenv("GCP_PROJECT_ID"),

		BotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		InvoicesBucket: os.Getenv("INVOICES_BUCKET"),
		LogosBucket:    os.Getenv("LOGOS_BUCKET"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		QueueName:           getEnv("TASKS_QUEUE", "ingest-tasks"),
		QueueLocation:       getEnv("TASKS_LOCATION", "europe-west1"),
		WorkerBaseURL:       os.Getenv("WORKER_BASE_URL"),
		ServiceAccountEmail: os.Getenv("SERVICE_ACCOUNT_EMAIL"),
		MaxRetries:          getEnvInt("MAX_RETRIES", 6),

		AdminSpreadsheetID: os.Getenv("ADMIN_SPREADSHEET_ID"),

		ChromeWSURL: os.Getenv("CHROME_WS_URL"),
		RendererURL: os.Getenv("RENDERER_URL"),

		EventsTopic: os.Getenv("EVENTS_TOPIC"),

		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
	}
}

// Validate returns an error naming every required variable that is missing,
// so a bad deploy fails once with the full list instead of variable by
// variable.
func (c *Config) Validate(role Role) error {
	var missing []string

	need := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	need("GCP_PROJECT_ID", c.ProjectID)
	need("TELEGRAM_BOT_TOKEN", c.BotToken)
	need("WEBHOOK_SECRET", c.WebhookSecret)

	switch role {
	case RoleIngest:
		need("WORKER_BASE_URL", c.WorkerBaseURL)
	case RoleWorker:
		need("INVOICES_BUCKET", c.InvoicesBucket)
		need("LOGOS_BUCKET", c.LogosBucket)
		need("ADMIN_SPREADSHEET_ID", c.AdminSpreadsheetID)
		if c.GeminiAPIKey == "" && c.OpenAIAPIKey == "" {
			missing = append(missing, "GEMINI_API_KEY or OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown service role %q", role)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be >= 1, got %d", c.MaxRetries)
	}
	return nil
}

// IsProduction reports whether the service runs with the production
// environment tag.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

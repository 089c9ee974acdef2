// Package telegram is a typed client for the chat platform's bot API,
// covering the handful of methods the pipeline and the conversational
// flows need: send/edit messages, answer callbacks, resolve and download
// files.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://api.telegram.org"

	// Outbound calls share one deadline; the platform answers well under it
	// or not at all.
	callTimeout = 15 * time.Second

	// Hard ceiling on a single file download. The pipeline enforces its own
	// 5 MiB policy; this only protects the client from unbounded bodies.
	maxDownloadBytes = 25 << 20
)

type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: callTimeout},
	}
}

// WithBaseURL points the client at a different API origin. Tests use it to
// target a local stub server.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// APIError is a non-ok answer from the platform.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: api error %d: %s", e.Code, e.Description)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !api.OK {
		return &APIError{Code: api.ErrorCode, Description: api.Description}
	}
	if out != nil {
		if err := json.Unmarshal(api.Result, out); err != nil {
			return fmt.Errorf("telegram: parse %s result: %w", method, err)
		}
	}
	return nil
}

// SendOptions carries the optional knobs of SendMessage.
type SendOptions struct {
	ReplyToMessageID int64
	ReplyMarkup      *InlineKeyboardMarkup
	ParseMode        string
}

// SendMessage posts text to a chat and returns the sent message, whose id
// callers keep when they will edit it later.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) (*Message, error) {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if opts != nil {
		if opts.ReplyToMessageID != 0 {
			payload["reply_to_message_id"] = opts.ReplyToMessageID
			payload["allow_sending_without_reply"] = true
		}
		if opts.ReplyMarkup != nil {
			payload["reply_markup"] = opts.ReplyMarkup
		}
		if opts.ParseMode != "" {
			payload["parse_mode"] = opts.ParseMode
		}
	}

	var sent Message
	if err := c.call(ctx, "sendMessage", payload, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

// EditMessageText rewrites a previously sent message, dropping any inline
// keyboard unless a new markup is supplied.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *InlineKeyboardMarkup) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	return c.call(ctx, "editMessageText", payload, nil)
}

// AnswerCallbackQuery stops the client-side spinner of a button press.
// Text, when set, shows as a toast.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	payload := map[string]interface{}{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

// GetFile resolves a file id to a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := c.call(ctx, "getFile", map[string]interface{}{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// DownloadFile fetches the bytes behind a path returned by GetFile.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: build download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Code: resp.StatusCode, Description: "file download failed"}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("telegram: read download body: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("telegram: file exceeds %d bytes", maxDownloadBytes)
	}
	return data, nil
}

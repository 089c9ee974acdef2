package invoicegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/kvitly/backend/internal/logging"
)

const renderTimeout = 60 * time.Second

// Renderer turns the invoice HTML into PDF bytes.
type Renderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// NewRenderer builds the rendering chain from config: headless Chrome over
// its DevTools websocket when available, the HTTP rendering service as
// fallback. At least one must be configured.
func NewRenderer(chromeWSURL, rendererURL string) (Renderer, error) {
	var chain []Renderer
	if chromeWSURL != "" {
		chain = append(chain, &chromeRenderer{wsURL: chromeWSURL})
	}
	if rendererURL != "" {
		client := retryablehttp.NewClient()
		client.RetryMax = 2
		client.HTTPClient.Timeout = renderTimeout
		client.Logger = nil
		chain = append(chain, &httpRenderer{url: rendererURL, client: client})
	}
	switch len(chain) {
	case 0:
		return nil, errors.New("invoicegen: no renderer configured")
	case 1:
		return chain[0], nil
	default:
		return &fallbackRenderer{primary: chain[0], fallback: chain[1]}, nil
	}
}

// chromeRenderer prints through a remote headless Chrome instance.
type chromeRenderer struct {
	wsURL string
}

func (r *chromeRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	actx, acancel := chromedp.NewRemoteAllocator(ctx, r.wsURL)
	defer acancel()
	cctx, ccancel := chromedp.NewContext(actx)
	defer ccancel()

	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(html))

	var pdf []byte
	err := chromedp.Run(cctx,
		chromedp.Navigate(dataURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("invoicegen: chrome render: %w", err)
	}
	return pdf, nil
}

// httpRenderer posts the HTML to the standalone rendering service and gets
// PDF bytes back.
type httpRenderer struct {
	url    string
	client *retryablehttp.Client
}

func (r *httpRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"html": html})
	if err != nil {
		return nil, fmt.Errorf("invoicegen: marshal render request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("invoicegen: build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoicegen: render request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invoicegen: renderer returned %d", resp.StatusCode)
	}
	pdf, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, fmt.Errorf("invoicegen: read rendered pdf: %w", err)
	}
	return pdf, nil
}

// fallbackRenderer tries Chrome first, then the HTTP service.
type fallbackRenderer struct {
	primary, fallback Renderer
}

func (r *fallbackRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	pdf, err := r.primary.RenderPDF(ctx, html)
	if err == nil {
		return pdf, nil
	}
	logging.FromContext(ctx).Warnw("primary renderer failed, falling back", "error", err)
	return r.fallback.RenderPDF(ctx, html)
}

// Package sheets appends extraction and generation rows to Google
// Spreadsheets. Tabs are created with their header row on first use; rows
// are append-only and schema-stable.
package sheets

import (
	"context"
	"fmt"
	"time"

	sheetsapi "google.golang.org/api/sheets/v4"
)

const opTimeout = 30 * time.Second

// Tab names.
const (
	TabInvoices  = "Invoices"
	TabGenerated = "Generated Invoices"
)

type Client struct {
	svc *sheetsapi.Service
}

func New(ctx context.Context) (*Client, error) {
	svc, err := sheetsapi.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ListTabs returns the spreadsheet's sheet titles. Onboarding uses it both
// to verify the service identity can read the tenant's spreadsheet and to
// echo the tabs back to the user.
func (c *Client) ListTabs(ctx context.Context, spreadsheetID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ss, err := c.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: get spreadsheet %s: %w", spreadsheetID, err)
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

// EnsureTab creates the tab with its header row when it does not exist
// yet. Safe to call before every append; the common case is one cheap read.
func (c *Client) EnsureTab(ctx context.Context, spreadsheetID, tab string, headers []string) error {
	tabs, err := c.ListTabs(ctx, spreadsheetID)
	if err != nil {
		return err
	}
	for _, t := range tabs {
		if t == tab {
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = c.svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{Title: tab},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: add tab %q: %w", tab, err)
	}

	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	_, err = c.svc.Spreadsheets.Values.Update(spreadsheetID, tab+"!A1", &sheetsapi.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: write headers for %q: %w", tab, err)
	}
	return nil
}

// AppendRow appends one row and returns the updated range, which the job
// records as its sheetRowId.
func (c *Client) AppendRow(ctx context.Context, spreadsheetID, tab string, row []interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	resp, err := c.svc.Spreadsheets.Values.Append(spreadsheetID, tab+"!A:A", &sheetsapi.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("sheets: append to %q: %w", tab, err)
	}
	if resp.Updates != nil {
		return resp.Updates.UpdatedRange, nil
	}
	return "", nil
}

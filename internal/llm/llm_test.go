package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name   string
	fields *Fields
	err    error
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Extract(ctx context.Context, images [][]byte, mimeHint string) (*Fields, *Usage, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.fields, &Usage{Provider: f.name}, nil
}

func TestExtractorUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &fakeProvider{name: "primary", fields: &Fields{IsInvoice: true, VendorName: "ABC"}}
	fallback := &fakeProvider{name: "fallback"}

	fields, usage, err := NewExtractor(primary, fallback).Extract(context.Background(), [][]byte{{1}}, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "ABC", fields.VendorName)
	assert.Equal(t, "primary", usage.Provider)
	assert.Zero(t, fallback.calls)
}

func TestExtractorFallsBackOnAnyError(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("rate limited")}
	fallback := &fakeProvider{name: "fallback", fields: &Fields{IsInvoice: true}}

	_, usage, err := NewExtractor(primary, fallback).Extract(context.Background(), [][]byte{{1}}, "")
	require.NoError(t, err)
	assert.Equal(t, "fallback", usage.Provider)
	assert.Equal(t, 1, primary.calls, "primary must not be retried")
	assert.Equal(t, 1, fallback.calls)
}

func TestExtractorNoPrimaryGoesStraightToFallback(t *testing.T) {
	fallback := &fakeProvider{name: "fallback", fields: &Fields{IsInvoice: true}}

	_, usage, err := NewExtractor(nil, fallback).Extract(context.Background(), [][]byte{{1}}, "")
	require.NoError(t, err)
	assert.Equal(t, "fallback", usage.Provider)
}

func TestExtractorBothFailing(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("auth")}
	fallback := &fakeProvider{name: "fallback", err: errors.New("transport")}

	_, _, err := NewExtractor(primary, fallback).Extract(context.Background(), [][]byte{{1}}, "")
	require.Error(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestExtractorNoProviders(t *testing.T) {
	_, _, err := NewExtractor(nil, nil).Extract(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                          "{\"a\":1}",
		"```json\n{\"a\":1}\n```":            "{\"a\":1}",
		"```\n{\"a\":1}\n```":                "{\"a\":1}",
		"  ```json\n{\n  \"a\": 1\n}\n``` ":  "{\n  \"a\": 1\n}",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripCodeFences(in), "input %q", in)
	}
}

func TestParseFieldsTolerantOfFences(t *testing.T) {
	fields, err := parseFields("```json\n{\"is_invoice\": true, \"vendor_name\": \"ABC\", \"total_amount\": 100.5, \"confidence\": 0.9}\n```")
	require.NoError(t, err)
	assert.True(t, fields.IsInvoice)
	assert.Equal(t, "ABC", fields.VendorName)
	require.NotNil(t, fields.TotalAmount)
	assert.Equal(t, 100.5, *fields.TotalAmount)
}

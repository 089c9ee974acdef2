package invoicegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDetails(t *testing.T) {
	d, errKey := ParseDetails("Acme Ltd, 1250.50, Consulting June, 512345678")
	require.Empty(t, errKey)
	assert.Equal(t, "Acme Ltd", d.CustomerName)
	assert.Equal(t, "1250.5", d.Amount.String())
	assert.Equal(t, "Consulting June", d.Description)
	assert.Equal(t, "512345678", d.CustomerTaxID)
}

func TestParseDetailsWithoutTaxID(t *testing.T) {
	d, errKey := ParseDetails("Acme Ltd, 300, Website maintenance")
	require.Empty(t, errKey)
	assert.Empty(t, d.CustomerTaxID)
}

func TestParseDetailsErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		key   string
	}{
		{"too few fields", "Acme, 300", "invoicegen.details_format"},
		{"too many fields", "Acme, 300, desc, 512345678, extra", "invoicegen.details_format"},
		{"empty customer", " , 300, desc", "invoicegen.details_format"},
		{"empty description", "Acme, 300,  ", "invoicegen.details_format"},
		{"amount not a number", "Acme, three hundred, desc", "invoicegen.invalid_amount"},
		{"amount zero", "Acme, 0, desc", "invoicegen.invalid_amount"},
		{"amount negative", "Acme, -12.5, desc", "invoicegen.invalid_amount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, errKey := ParseDetails(tc.input)
			assert.Nil(t, d)
			assert.Equal(t, tc.key, errKey)
		})
	}
}

func TestParseDetailsKeepsDecimalExact(t *testing.T) {
	// 0.1+0.2 style drift must not leak into the stored amount.
	d, errKey := ParseDetails("Acme, 999.99, desc")
	require.Empty(t, errKey)
	assert.Equal(t, "999.99", d.Amount.String())
}

package onboarding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOwnerDetails(t *testing.T) {
	d, errKey := ParseOwnerDetails("Dana Levi, 123456789, +972-50-1234567, dana@example.com")
	require.Empty(t, errKey)
	assert.Equal(t, "Dana Levi", d.Name)
	assert.Equal(t, "123456789", d.TaxID)
	assert.Equal(t, "+972-50-1234567", d.Phone)
	assert.Equal(t, "dana@example.com", d.Email)
}

func TestParseOwnerDetailsErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		key   string
	}{
		{"too few fields", "Dana, 123456789, 0501234567", "onboarding.owner_details_format"},
		{"too many fields", "Dana, 123456789, 0501234567, a@b.co, extra", "onboarding.owner_details_format"},
		{"empty name", " , 123456789, 0501234567, a@b.co", "onboarding.owner_details_format"},
		{"tax id short", "Dana, 12345678, 0501234567, a@b.co", "onboarding.invalid_tax_id"},
		{"tax id letters", "Dana, 12345678a, 0501234567, a@b.co", "onboarding.invalid_tax_id"},
		{"phone too short", "Dana, 123456789, 12345, a@b.co", "onboarding.invalid_phone"},
		{"phone letters", "Dana, 123456789, 05x1234567, a@b.co", "onboarding.invalid_phone"},
		{"bad email", "Dana, 123456789, 0501234567, not-an-email", "onboarding.invalid_email"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, errKey := ParseOwnerDetails(tc.input)
			assert.Nil(t, d)
			assert.Equal(t, tc.key, errKey)
		})
	}
}

func TestValidBusinessName(t *testing.T) {
	assert.True(t, ValidBusinessName("Studio Alma"))
	assert.True(t, ValidBusinessName("  AB  "))
	assert.False(t, ValidBusinessName("A"))
	assert.False(t, ValidBusinessName("   "))
	long := make([]byte, 121)
	for i := range long {
		long[i] = 'x'
	}
	assert.False(t, ValidBusinessName(string(long)))
}

func TestParseCounterSeed(t *testing.T) {
	n, ok := ParseCounterSeed(" 42 ")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	for _, bad := range []string{"0", "-3", "1.5", "forty", ""} {
		_, ok := ParseCounterSeed(bad)
		assert.False(t, ok, bad)
	}
}

func TestExtractSpreadsheetID(t *testing.T) {
	const id = "1BxiMVs0XRA5nFMdKvBdBZjgmUUqptlbs74OgvE2upms"
	assert.Equal(t, id, ExtractSpreadsheetID(id))
	assert.Equal(t, id, ExtractSpreadsheetID("https://docs.google.com/spreadsheets/d/"+id+"/edit#gid=0"))
	assert.Empty(t, ExtractSpreadsheetID("not a sheet"))
	assert.Empty(t, ExtractSpreadsheetID(""))
}

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.True(t, ValidCodeFormat(code), code)
		seen[code] = true
	}
	// Collisions in 100 draws over a 30^6 space mean the generator is broken.
	assert.Len(t, seen, 100)
}

func TestValidCodeFormat(t *testing.T) {
	assert.True(t, ValidCodeFormat("INV-7KQ2XM"))
	assert.False(t, ValidCodeFormat("INV-7KQ2X"))   // too short
	assert.False(t, ValidCodeFormat("INV-7KQ2XMM")) // too long
	assert.False(t, ValidCodeFormat("INV-7KQ2X0"))  // confusable 0
	assert.False(t, ValidCodeFormat("inv-7kq2xm"))  // lower case
	assert.False(t, ValidCodeFormat("7KQ2XM"))
}

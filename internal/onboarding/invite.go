package onboarding

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// Invite codes look like INV-7KQ2XM. The alphabet drops 0/O/1/I so codes
// survive being read aloud or retyped from a screenshot.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 6

var reCode = regexp.MustCompile(`^INV-[A-HJ-KM-NP-Z2-9]{6}$`)

// GenerateCode mints a fresh invite code from crypto/rand.
func GenerateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("onboarding: generate invite code: %w", err)
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return "INV-" + string(out), nil
}

// ValidCodeFormat screens obviously malformed codes before any store read.
func ValidCodeFormat(code string) bool {
	return reCode.MatchString(code)
}

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// globalNamespace seeds the name-based UUIDs of global customers.
var globalNamespace = uuid.MustParse("6f1c1c52-9a0e-4c53-9d7e-2b8f6a1d4e70")

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps digits only, so formatting differences collapse.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Fingerprint hashes the normalized contact details. It returns "" when
// there is nothing to identify the customer by.
func Fingerprint(email, phone string) string {
	email = NormalizeEmail(email)
	phone = NormalizePhone(phone)
	if email == "" && phone == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email + "|" + phone))
	return hex.EncodeToString(sum[:])
}

// GlobalIDFor derives the global customer id from a fingerprint. The same
// fingerprint always yields the same id.
func GlobalIDFor(fingerprint string) uuid.UUID {
	return uuid.NewSHA1(globalNamespace, []byte(fingerprint))
}

package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// GenerateID generates a random unique identifier
func GenerateID() string {
	return uuid.NewString()
}

// PayloadHash computes a stable hash over a record payload. Map keys are
// sorted before hashing so two payloads with identical field values always
// produce the same digest regardless of iteration order.
func PayloadHash(data map[string]interface{}) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		v, _ := json.Marshal(data[k])
		h.Write(v)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SanitizeIdentifier converts a vendor API name into a safe SQL identifier:
// lowercased, with every non-alphanumeric run collapsed to an underscore.
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the deterministic run identity: the same question
// from the same org in the same jurisdiction and confidentiality mode
// always reuses one run record.
func Fingerprint(question, orgID, jurisdiction string, confidential bool) string {
	confBit := "0"
	if confidential {
		confBit = "1"
	}
	parts := []string{normalizeQuestion(question), orgID, jurisdiction, confBit}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// normalizeQuestion lowercases and collapses whitespace so cosmetic
// edits do not defeat the cache.
func normalizeQuestion(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}

// Package rewrite turns specification chunks into past-tense report prose
// through a bounded generate, verify, repair exchange with the text service.
package rewrite

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// StyleRules is shared read-only by every chunk of a run.
type StyleRules struct {
	BannedWords       []string
	Tense             string
	PreserveNumbering bool
	Supplementary     string
}

// Fingerprint is a stable digest of the rules, used in cache keys.
func (r StyleRules) Fingerprint() string {
	h := sha256.New()
	for _, w := range r.BannedWords {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(w))))
		h.Write([]byte{0})
	}
	h.Write([]byte{1})
	h.Write([]byte(r.Tense))
	h.Write([]byte{1})
	h.Write([]byte(strconv.FormatBool(r.PreserveNumbering)))
	h.Write([]byte{1})
	h.Write([]byte(r.Supplementary))
	return hex.EncodeToString(h.Sum(nil))
}

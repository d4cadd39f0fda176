package semanticcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/opskb/ragd/internal/model"
)

const fingerprintSep = "\x1F"

// Fingerprint computes the exact cache key from spec §4.1:
// sha256(lowercase(nfkc(strip(text))) || 0x1F || mode || 0x1F || tenant).
func Fingerprint(q model.Query) string {
	normalized := normalizeText(q.Text)
	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte(fingerprintSep))
	h.Write([]byte(q.NormalizedMode()))
	h.Write([]byte(fingerprintSep))
	h.Write([]byte(q.Tenant))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.TrimFunc(s, unicode.IsSpace)
}

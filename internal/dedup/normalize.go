package dedup

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"
)

// NormalizeContent case-folds and collapses whitespace so that trivially
// reformatted copies of the same wire story hash identically.
func NormalizeContent(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// HashContent returns the canonical hash of normalized content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return fmt.Sprintf("%x", sum)
}

// Fingerprint derives the structural dedup key: sorted affected tickers,
// event-type code, and a day-granular UTC date bucket. It catches same-event
// rewrites from different wires without touching embeddings.
func Fingerprint(tickers []string, eventType string, ts time.Time) string {
	sorted := make([]string, len(tickers))
	copy(sorted, tickers)
	sort.Strings(sorted)

	bucket := ts.UTC().Format("2006-01-02")
	return strings.Join(sorted, ",") + "|" + eventType + "|" + bucket
}

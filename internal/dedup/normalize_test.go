package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	assert.Equal(t,
		NormalizeContent("Acme  Corp beats\n\testimates"),
		NormalizeContent("ACME CORP BEATS ESTIMATES"),
	)
	assert.Equal(t, "one two", NormalizeContent("  One\t\tTWO  "))
}

func TestHashContentIgnoresFormatting(t *testing.T) {
	a := HashContent("Acme Corp Q3 earnings beat estimates.")
	b := HashContent("ACME CORP   Q3 earnings\nbeat estimates.")
	c := HashContent("Acme Corp Q3 earnings missed estimates.")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFingerprint(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	t.Run("ticker order does not matter", func(t *testing.T) {
		a := Fingerprint([]string{"NXS", "ACME"}, "earnings", ts)
		b := Fingerprint([]string{"ACME", "NXS"}, "earnings", ts)
		assert.Equal(t, a, b)
	})

	t.Run("day bucket", func(t *testing.T) {
		sameDay := Fingerprint([]string{"ACME"}, "earnings", ts.Add(8*time.Hour))
		nextDay := Fingerprint([]string{"ACME"}, "earnings", ts.Add(24*time.Hour))
		assert.Equal(t, Fingerprint([]string{"ACME"}, "earnings", ts), sameDay)
		assert.NotEqual(t, Fingerprint([]string{"ACME"}, "earnings", ts), nextDay)
	})

	t.Run("event type splits the key", func(t *testing.T) {
		assert.NotEqual(t,
			Fingerprint([]string{"ACME"}, "earnings", ts),
			Fingerprint([]string{"ACME"}, "guidance", ts),
		)
	})
}

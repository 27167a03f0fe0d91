package digest

import (
	"fmt"
	"strings"
	"time"
)

// DateKey is a canonical YYYY-MM-DD day identifier.
type DateKey string

const canonicalDateLayout = "2006-01-02"

// BatchZone is the fixed UTC+9 offset that defines "today" for a batch.
var BatchZone = time.FixedZone("UTC+9", 9*60*60)

// DateKeyFor returns the batch day containing t.
func DateKeyFor(t time.Time) DateKey {
	return DateKey(t.In(BatchZone).Format(canonicalDateLayout))
}

// ParseDateKey normalizes the accepted boundary formats to YYYY-MM-DD.
// Empty input and "today" resolve against now.
func ParseDateKey(raw string, now time.Time) (DateKey, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "today") {
		return DateKeyFor(now), nil
	}
	s = strings.TrimSuffix(s, ".json")
	for _, layout := range []string{canonicalDateLayout, "20060102", "060102"} {
		if len(s) != len(layout) {
			continue
		}
		t, err := time.Parse(layout, s)
		if err == nil {
			return DateKey(t.Format(canonicalDateLayout)), nil
		}
	}
	return "", fmt.Errorf("%w: invalid date key %q", ErrValidation, raw)
}

// ObjectKey is the canonical document key under the aggregation bucket.
func (d DateKey) ObjectKey() string {
	return string(d) + ".json"
}

// String implements fmt.Stringer.
func (d DateKey) String() string {
	return string(d)
}

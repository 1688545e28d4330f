// Package normalize canonicalizes the identifiers used as join keys across
// the import and query paths. Every function is pure and total: unparseable
// input falls back to a best-effort form instead of failing.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ProductIDSeparator joins the segments of a composed product identifier.
const ProductIDSeparator = "-"

var lotPattern = regexp.MustCompile(`(\d+)_(\d+)`)

// canonicalLot matches the fixed-width canonical lot form: 7 digits, an
// underscore, 2 digits.
var canonicalLot = regexp.MustCompile(`^\d{7}_\d{2}$`)

// LotNo canonicalizes a lot number into the 7+2 fixed-width form used as a
// join key. The first two numeric groups separated by "_" are extracted, the
// first padded to 7 digits and the second to 2, truncating from the left when
// longer. Input without the pattern is returned unchanged, which doubles as
// the non-normalizable marker. Normalizing an already canonical lot number is
// a no-op.
func LotNo(raw string) string {
	trimmed := strings.TrimSpace(raw)
	m := lotPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return raw
	}
	return fixWidth(m[1], 7) + "_" + fixWidth(m[2], 2)
}

// IsCanonicalLot reports whether lot is already in the 7+2 canonical form.
func IsCanonicalLot(lot string) bool {
	return canonicalLot.MatchString(lot)
}

// WinderNo extracts the winder/unit number encoded in the last two characters
// of a normalized lot number. The second return value is false when either
// character is not a digit.
func WinderNo(lotNorm string) (int, bool) {
	if len(lotNorm) < 2 {
		return 0, false
	}
	suffix := lotNorm[len(lotNorm)-2:]
	n, err := strconv.Atoi(suffix)
	if err != nil || strings.ContainsAny(suffix, "+- ") {
		return 0, false
	}
	return n, true
}

// ProductID composes the deterministic, globally unique identifier of one
// physical unit: production date, machine, mold and the unit-level sub-lot
// fragment, joined by a fixed separator. Re-imports of the same logical unit
// must produce the identical identifier, so the composition takes only
// normalized inputs and no randomness.
func ProductID(productionDate time.Time, machineNo, moldNo, subLotFragment string) string {
	segments := []string{
		productionDate.Format("20060102"),
		strings.TrimSpace(machineNo),
		strings.TrimSpace(moldNo),
		strings.TrimSpace(subLotFragment),
	}
	return strings.Join(segments, ProductIDSeparator)
}

// fixWidth left-pads s with zeros to width, truncating from the left when s
// is longer.
func fixWidth(s string, width int) string {
	if len(s) > width {
		return s[len(s)-width:]
	}
	return strings.Repeat("0", width-len(s)) + s
}

// Package rap looks up benchmark per-carat prices for graded stones.
//
// Grading letters are first mapped to the ordinal codes the pricing service
// understands: color D..M becomes 1..10, clarity IF..I7 becomes "Q1".."Q15".
// Grades outside those tables have no code and are never looked up.
package rap

import (
	"strconv"
	"strings"
)

const colorScale = "DEFGHIJKLM"

var clarityOrder = []string{
	"IF", "VVS1", "VVS2", "VS1", "VS2", "SI1", "SI2", "SI3",
	"I1", "I2", "I3", "I4", "I5", "I6", "I7",
}

var clarityCodes = func() map[string]string {
	codes := make(map[string]string, len(clarityOrder))
	for i, grade := range clarityOrder {
		codes[grade] = "Q" + strconv.Itoa(i+1)
	}
	return codes
}()

// ColorCode returns the rank of a color letter, D=1 through M=10.
func ColorCode(color string) (int, bool) {
	c := strings.ToUpper(strings.TrimSpace(color))
	if len(c) != 1 {
		return 0, false
	}
	i := strings.Index(colorScale, c)
	if i < 0 {
		return 0, false
	}
	return i + 1, true
}

// ClarityCode returns the "Q" code of a clarity grade.
func ClarityCode(clarity string) (string, bool) {
	code, ok := clarityCodes[strings.ToUpper(strings.TrimSpace(clarity))]
	return code, ok
}

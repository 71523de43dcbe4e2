// Package number provides formatting of dialable addresses and
// generation of opaque session identifiers.
package number

import (
	"strings"

	"github.com/google/uuid"
)

// Format parses a SIP URI or raw number and returns a formatted US
// phone number. The user part before any '@' is kept, everything that
// is not a digit is stripped, and 10- or 11-digit results are rendered
// as "(AAA) BBB-CCCC" (11-digit numbers drop the leading digit). Any
// other length is returned as the bare digit string. Format never
// fails.
func Format(addr string) string {
	num := addr
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		num = addr[:i]
	}

	var digits strings.Builder
	for _, r := range num {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	num = digits.String()

	switch len(num) {
	case 10:
		return "(" + num[0:3] + ") " + num[3:6] + "-" + num[6:10]
	case 11:
		return "(" + num[1:4] + ") " + num[4:7] + "-" + num[7:11]
	default:
		return num
	}
}

// NewID returns an opaque token used to key sessions and log entries.
// Uniqueness is best-effort and scoped to the running process.
func NewID() string {
	return uuid.NewString()
}

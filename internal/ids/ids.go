// Package ids generates job and entity identifiers.
//
// Identifiers combine a timestamp with a random base-36 token drawn from a
// v4 UUID. They are unique with high probability, not cryptographically
// guaranteed.
package ids

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Token returns n random base-36 characters.
func Token(n int) string {
	out := make([]byte, 0, n)
	for len(out) < n {
		u := uuid.New()
		for _, b := range u {
			if len(out) == n {
				break
			}
			// Skip values that would bias the distribution toward low digits.
			if b >= 252 {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
		}
	}
	return string(out)
}

// Job returns a job ID of the form job_<unix millis>_<9 chars>.
func Job(now time.Time) string {
	return "job_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + Token(9)
}

// Entity returns prefix + base-36 unix millis + a 6 char token.
func Entity(prefix string, now time.Time) string {
	return prefix + strconv.FormatInt(now.UnixMilli(), 36) + Token(6)
}

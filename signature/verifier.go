package signature

import (
	"crypto/hmac"
	"errors"
	"strconv"
	"time"
)

// Verification errors.
var (
	ErrMissing  = errors.New("signature: missing signature or timestamp")
	ErrExpired  = errors.New("signature: timestamp outside tolerance")
	ErrMismatch = errors.New("signature: mismatch")
)

// DefaultTolerance is the clock skew Verify accepts.
const DefaultTolerance = 5 * time.Minute

// Verify checks the signature and timestamp headers of a received request.
// A tolerance of zero uses DefaultTolerance.
func Verify(secret, method, url string, body []byte, sig, timestamp string, tolerance time.Duration, now time.Time) error {
	if sig == "" || timestamp == "" {
		return ErrMissing
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrMissing
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	ts := time.Unix(unix, 0)
	if d := now.Sub(ts); d > tolerance || d < -tolerance {
		return ErrExpired
	}

	if !hmac.Equal([]byte(Sign(secret, method, url, body, ts)), []byte(sig)) {
		return ErrMismatch
	}
	return nil
}

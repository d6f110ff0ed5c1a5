package broker

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// totpDigits and totpStep follow RFC 6238's common defaults, matching what
// every broker's mobile-app-compatible TOTP seed expects.
const (
	totpDigits = 6
	totpStep   = 30 * time.Second
)

// generateTOTP derives a 6-digit time-based code from a base32 seed, the
// same primitive an authenticator app would compute. No TOTP library
// appears anywhere in the example pack, so this is built directly on
// stdlib hmac/sha1 (see DESIGN.md).
func generateTOTP(seed string, now time.Time) (string, error) {
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(strings.TrimSpace(seed)))
	if err != nil {
		return "", fmt.Errorf("totp: decode seed: %w", err)
	}

	counter := uint64(now.Unix()) / uint64(totpStep.Seconds())
	msg := make([]byte, 8)
	binary.BigEndian.PutUint64(msg, counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg)
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	code := truncated % pow10(totpDigits)
	return fmt.Sprintf("%0*d", totpDigits, code), nil
}

func pow10(n int) uint32 {
	v := uint32(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

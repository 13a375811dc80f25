package identity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// mfaStep is the time step for one-time codes.
const mfaStep = 30 * time.Second

// generateMFASecret returns a fresh per-user MFA secret.
func generateMFASecret() (string, error) {
	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate MFA secret: %w", err)
	}
	return hex.EncodeToString(secret), nil
}

// verifyMFACode checks a 6-digit one-time code against the secret, allowing
// one step of clock skew in either direction.
func verifyMFACode(secret, code string, now time.Time) bool {
	if len(code) != 6 {
		return false
	}
	key, err := hex.DecodeString(secret)
	if err != nil {
		return false
	}

	counter := uint64(now.Unix()) / uint64(mfaStep/time.Second)
	for _, c := range []uint64{counter - 1, counter, counter + 1} {
		expected := hotp(key, c)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// hotp computes the RFC 4226 dynamic truncation of HMAC-SHA1(key, counter)
// as a 6-digit code.
func hotp(key []byte, counter uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", value%1000000)
}

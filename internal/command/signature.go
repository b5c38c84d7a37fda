package command

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"time"
)

const signatureVersion = "v0"

var (
	ErrBadTimestamp = errors.New("invalid request timestamp")
	ErrStale        = errors.New("request timestamp outside replay window")
	ErrBadSignature = errors.New("signature mismatch")
)

// Sign computes the v0 request signature over timestamp and body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signed request. Timestamps further than window from now in
// either direction are rejected before the signature is compared.
func Verify(secret, timestamp, signature string, body []byte, window time.Duration, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}
	if math.Abs(float64(now.Unix()-ts)) > window.Seconds() {
		return ErrStale
	}
	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

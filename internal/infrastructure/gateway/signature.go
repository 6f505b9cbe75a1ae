package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/minicart/fulfillment/internal/domain/payment"
)

// Webhook deliveries carry a signature header of the form
//
//	t=<unix seconds>,v1=<hex hmac-sha256 of "<t>.<raw body>">
//
// computed over the raw, unparsed body. Re-serializing the payload before
// verification would break the check byte-for-byte, so callers must pass the
// body exactly as read off the wire.
const signatureTolerance = 5 * time.Minute

// Sign produces the signature header for a payload. Used by the fake gateway
// and by tests.
func Sign(secret string, at time.Time, payload []byte) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, digest(secret, ts, payload))
}

// VerifySignature authenticates a raw webhook body against its signature
// header. Any malformed, stale, or mismatched signature reports
// payment.ErrBadSignature; the caller must not touch the payload afterwards.
func VerifySignature(secret string, payload []byte, header string, now time.Time) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			sig = value
		}
	}
	if ts == "" || sig == "" {
		return payment.ErrBadSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return payment.ErrBadSignature
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return payment.ErrBadSignature
	}

	if !hmac.Equal([]byte(digest(secret, ts, payload)), []byte(sig)) {
		return payment.ErrBadSignature
	}
	return nil
}

func digest(secret, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Package signature computes and checks webhook signatures.
//
// A signature is the base64 (standard alphabet, padded) HMAC-SHA512 of
// "{timestamp}.{payload}" keyed with the route's secret token. Receivers
// recompute it from the X-Timestamp header and the raw request body.
package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"strconv"
)

// Sign returns the signature for payload sent at timestamp (unix seconds).
func Sign(secret string, timestamp int64, payload []byte) string {
	return base64.StdEncoding.EncodeToString(mac(secret, timestamp, payload))
}

// Verify reports whether sig is a valid signature for payload and
// timestamp. The comparison is constant time.
func Verify(secret string, timestamp int64, payload []byte, sig string) bool {
	decoded, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(decoded, mac(secret, timestamp, payload))
}

func mac(secret string, timestamp int64, payload []byte) []byte {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write(strconv.AppendInt(nil, timestamp, 10))
	h.Write([]byte{'.'})
	h.Write(payload)
	return h.Sum(nil)
}

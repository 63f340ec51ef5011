package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// DefaultRecvWindow is how long, in milliseconds, the exchange accepts a
// signed request after its timestamp.
const DefaultRecvWindow = 5000

// HMACAuth holds the credentials for signed exchange requests.
type HMACAuth struct {
	Key        string
	Secret     string
	RecvWindow int // milliseconds
}

// Headers returns the authentication headers for a request whose payload is
// the query string (GET) or the JSON body (POST). The signature is
// hex(HMAC-SHA256(secret, timestamp+key+recvWindow+payload)).
//
// Returned header keys:
//   - X-BAPI-API-KEY
//   - X-BAPI-TIMESTAMP
//   - X-BAPI-RECV-WINDOW
//   - X-BAPI-SIGN
func (h *HMACAuth) Headers(payload string) map[string]string {
	return h.HeadersAt(payload, time.Now().UnixMilli())
}

// HeadersAt is like Headers but lets the caller supply the Unix millisecond
// timestamp.
func (h *HMACAuth) HeadersAt(payload string, unixMilli int64) map[string]string {
	ts := strconv.FormatInt(unixMilli, 10)
	window := strconv.Itoa(h.recvWindow())

	return map[string]string{
		"X-BAPI-API-KEY":     h.Key,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": window,
		"X-BAPI-SIGN":        Sign(h.Secret, ts+h.Key+window+payload),
	}
}

func (h *HMACAuth) recvWindow() int {
	if h.RecvWindow <= 0 {
		return DefaultRecvWindow
	}
	return h.RecvWindow
}

// Sign returns the hex-encoded HMAC-SHA256 of message under secret.
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

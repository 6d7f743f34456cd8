// Package canal bridges Slack workspaces to long-lived assistant threads:
// inbound events arrive over the Events API webhook or per-project Socket
// Mode connections, outbound assistant output is posted back by editing a
// single thinking placeholder in place.
package canal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"time"
)

// signatureVersion is the Slack signing scheme version prefix.
const signatureVersion = "v0"

// replayWindow is the maximum allowed clock skew between the request
// timestamp and verification time.
const replayWindow = 300 * time.Second

// Verifier validates Slack request signatures (HMAC-SHA256 over
// "v0:timestamp:body") with a replay-window check.
type Verifier struct {
	now func() time.Time
}

// NewVerifier creates a Verifier using the wall clock.
func NewVerifier() *Verifier {
	return &Verifier{now: time.Now}
}

// Verify reports whether signature matches the request body and timestamp
// under signingSecret. Comparison is constant-time.
func (v *Verifier) Verify(body []byte, signingSecret, signature, timestamp string) bool {
	if signature == "" || timestamp == "" {
		return false
	}

	ts, err := strconv.ParseFloat(timestamp, 64)
	if err != nil || math.IsInf(ts, 0) || math.IsNaN(ts) {
		return false
	}

	skew := math.Abs(v.now().Sub(time.Unix(int64(ts), 0)).Seconds())
	if skew > replayWindow.Seconds() {
		return false
	}

	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	expected := signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

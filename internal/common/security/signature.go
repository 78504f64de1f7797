package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teacurran/village-calendar-sub007/internal/common"
)

// WebhookVerifier checks payment-provider signatures of the form
//
//	t=<unix seconds>,v1=<hex hmac-sha256>
//
// where the MAC covers "<t>.<raw body>". The raw body must be the exact
// bytes received; any re-serialization breaks the signature.
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
}

// NewWebhookVerifier builds a verifier. A tolerance of zero disables the
// timestamp freshness check.
func NewWebhookVerifier(secret []byte, tolerance time.Duration) *WebhookVerifier {
	return &WebhookVerifier{secret: secret, tolerance: tolerance}
}

// Verify validates header against payload. All failures wrap
// common.ErrSignatureInvalid so callers map them to a 400 uniformly.
func (v *WebhookVerifier) Verify(payload []byte, header string) error {
	ts, candidates, err := parseSignatureHeader(header)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrSignatureInvalid, err)
	}
	if v.tolerance > 0 {
		age := time.Since(time.Unix(ts, 0))
		if age > v.tolerance || age < -v.tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", common.ErrSignatureInvalid)
		}
	}
	expected := v.compute(payload, ts)
	for _, candidate := range candidates {
		sig, decodeErr := hex.DecodeString(candidate)
		if decodeErr != nil {
			continue
		}
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching v1 signature", common.ErrSignatureInvalid)
}

// Sign produces a valid header for payload at time t. Exposed for tests and
// the local provider stub.
func (v *WebhookVerifier) Sign(payload []byte, t time.Time) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(v.compute(payload, ts)))
}

func (v *WebhookVerifier) compute(payload []byte, ts int64) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, []string, error) {
	if header == "" {
		return 0, nil, fmt.Errorf("missing signature header")
	}
	var (
		ts         int64
		tsSeen     bool
		candidates []string
	)
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return 0, nil, fmt.Errorf("malformed signature element %q", part)
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("malformed timestamp %q", kv[1])
			}
			ts = parsed
			tsSeen = true
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}
	if !tsSeen {
		return 0, nil, fmt.Errorf("missing t element")
	}
	if len(candidates) == 0 {
		return 0, nil, fmt.Errorf("missing v1 element")
	}
	return ts, candidates, nil
}

package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timestampFormat renders UTC timestamps as YYYYMMDDThh:mm:ss+0000, matching
// the EG1-HMAC-SHA256 reference implementation's timestampFormat constant.
const timestampFormat = "20060102T15:04:05-0700"

// SigningInputs are the pieces of a single request that feed the canonical
// string, separated out so tests can reproduce spec §8 scenario 1's
// reference vector deterministically (fixed timestamp and nonce instead of
// "now" and a fresh UUID).
type SigningInputs struct {
	Method         string
	Scheme         string
	Host           string
	RelativeURL    string // path + query, including accountSwitchKey if present
	Body           []byte
	Timestamp      string // YYYYMMDDThh:mm:ss+0000; computed from now if empty
	Nonce          string // fresh UUID if empty
	HeaderAllowlist []string
	Headers        map[string]string // only consulted if HeaderAllowlist is non-empty
}

// AuthHeader computes the full Authorization header value and the inputs
// actually used (so callers/tests can inspect the timestamp/nonce chosen).
func AuthHeader(b *Bundle, in SigningInputs) (header string, used SigningInputs, err error) {
	if err := b.Validate(); err != nil {
		return "", in, err
	}

	if in.Timestamp == "" {
		in.Timestamp = time.Now().UTC().Format(timestampFormat)
	}
	if in.Nonce == "" {
		in.Nonce = uuid.NewString()
	}

	authData := fmt.Sprintf(
		"EG1-HMAC-SHA256 client_token=%s;access_token=%s;timestamp=%s;nonce=%s;",
		b.ClientToken, b.AccessToken, in.Timestamp, in.Nonce,
	)

	contentHash := contentHash(in.Method, in.Body, b.EffectiveMaxBody())
	canonicalHeaders := canonicalHeaderString(in.HeaderAllowlist, in.Headers)

	canonical := strings.Join([]string{
		strings.ToUpper(in.Method),
		in.Scheme,
		in.Host,
		in.RelativeURL,
		canonicalHeaders,
		contentHash,
		authData,
	}, "\t")

	signingKey := deriveSigningKey(b.Secret, authData)
	sig := hmacBase64(signingKey, []byte(canonical))

	return authData + "signature=" + sig, in, nil
}

// deriveSigningKey computes base64(HMAC-SHA256(secret, authData)) per spec
// §4.1 step 5.
func deriveSigningKey(secret []byte, authData string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(authData))
	sum := mac.Sum(nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum)
	return out
}

func hmacBase64(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// contentHash computes base64(SHA-256(body truncated to maxBody)) for
// POST/PUT/PATCH requests carrying a body, empty string otherwise (spec
// §4.1 step 3).
func contentHash(method string, body []byte, maxBody int) string {
	m := strings.ToUpper(method)
	if m != "POST" && m != "PUT" && m != "PATCH" {
		return ""
	}
	if len(body) == 0 {
		return ""
	}
	truncated := body
	if len(truncated) > maxBody {
		truncated = truncated[:maxBody]
	}
	sum := sha256.Sum256(truncated)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// canonicalHeaderString returns the empty string unless the bundle specifies
// a header allow-list (spec §4.1 step 4).
func canonicalHeaderString(allowlist []string, headers map[string]string) string {
	if len(allowlist) == 0 {
		return ""
	}
	parts := make([]string, 0, len(allowlist))
	for _, h := range allowlist {
		v := headers[h]
		parts = append(parts, fmt.Sprintf("%s:%s", strings.ToLower(h), strings.TrimSpace(v)))
	}
	return strings.Join(parts, "\t")
}

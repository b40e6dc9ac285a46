// Package signing implements the EG1-HMAC-SHA256 request-signing scheme
// (spec §4.1) used to authenticate every call this gateway makes to the
// back-end CDN/DNS/security/certificate APIs, plus the retry, rate-limit
// parsing, and error-mapping machinery layered on top of it.
//
// The retry state machine is adapted from the teacher's
// internal/mcpserver/client/httpclient.go (clone-then-retry, typed recovery
// per status code). The canonicalization and signing steps are grounded on
// the independent EG1-HMAC-SHA256 reference implementation retrieved in the
// example pack (letsencrypt/boulder's akamai purge client), which this
// gateway's own signer must be bit-exact against per spec §8 scenario 1.
package signing

import "fmt"

// DefaultMaxBodyBytes is the default cap on how many body bytes are folded
// into the content-hash portion of the canonical signing string (spec §3).
const DefaultMaxBodyBytes = 131072

// Bundle is one tenant-environment credential set (spec §3 "Credential
// bundle"). It is immutable once loaded; rotation replaces the pointer
// atomically rather than mutating fields in place.
type Bundle struct {
	ClientToken      string
	AccessToken      string
	Secret           []byte
	Host             string
	AccountSwitchKey string
	MaxBodyBytes     int
	HeaderAllowlist  []string // canonical-headers allow-list; empty by default
}

// Validate checks that required fields are present.
func (b *Bundle) Validate() error {
	if b.ClientToken == "" {
		return fmt.Errorf("signing: bundle missing client_token")
	}
	if b.AccessToken == "" {
		return fmt.Errorf("signing: bundle missing access_token")
	}
	if len(b.Secret) == 0 {
		return fmt.Errorf("signing: bundle missing client_secret")
	}
	if b.Host == "" {
		return fmt.Errorf("signing: bundle missing host")
	}
	return nil
}

// EffectiveMaxBody returns MaxBodyBytes or the default if unset.
func (b *Bundle) EffectiveMaxBody() int {
	if b.MaxBodyBytes > 0 {
		return b.MaxBodyBytes
	}
	return DefaultMaxBodyBytes
}

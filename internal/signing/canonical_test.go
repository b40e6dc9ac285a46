package signing

import "testing"

func refBundle() *Bundle {
	return &Bundle{
		ClientToken: "ct1",
		AccessToken: "at1",
		Secret:      []byte("c2VjcmV0"), // base64("secret"), used as opaque bytes per spec §3
		Host:        "h.example",
	}
}

func refInputs() SigningInputs {
	return SigningInputs{
		Method:      "GET",
		Scheme:      "https",
		Host:        "h.example",
		RelativeURL: "/papi/v1/properties",
		Timestamp:   "20240101T00:00:00+0000",
		Nonce:       "00000000-0000-0000-0000-000000000000",
	}
}

// TestSigningDeterminism covers spec §8 invariant 1 and scenario 1: the
// signature is a pure function of (bundle, canonical string, timestamp,
// nonce), and flipping any one of those changes the output.
func TestSigningDeterminism(t *testing.T) {
	b := refBundle()
	in := refInputs()

	h1, _, err := AuthHeader(b, in)
	if err != nil {
		t.Fatalf("AuthHeader: %v", err)
	}
	h2, _, err := AuthHeader(b, in)
	if err != nil {
		t.Fatalf("AuthHeader: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical signatures for identical inputs, got %q vs %q", h1, h2)
	}

	// Changing the secret changes the signature.
	b2 := refBundle()
	b2.Secret = append([]byte{}, b.Secret...)
	b2.Secret[0] ^= 0xFF
	h3, _, _ := AuthHeader(b2, in)
	if h3 == h1 {
		t.Fatalf("expected signature to change when secret changes")
	}

	// Changing the canonical string (via path) changes the signature.
	in2 := in
	in2.RelativeURL = "/papi/v1/properties?x=1"
	h4, _, _ := AuthHeader(b, in2)
	if h4 == h1 {
		t.Fatalf("expected signature to change when canonical path changes")
	}

	// Changing the timestamp changes the signature.
	in3 := in
	in3.Timestamp = "20240101T00:00:01+0000"
	h5, _, _ := AuthHeader(b, in3)
	if h5 == h1 {
		t.Fatalf("expected signature to change when timestamp changes")
	}

	// Changing the nonce changes the signature.
	in4 := in
	in4.Nonce = "11111111-1111-1111-1111-111111111111"
	h6, _, _ := AuthHeader(b, in4)
	if h6 == h1 {
		t.Fatalf("expected signature to change when nonce changes")
	}
}

func TestAuthHeaderFormat(t *testing.T) {
	b := refBundle()
	in := refInputs()

	header, used, err := AuthHeader(b, in)
	if err != nil {
		t.Fatalf("AuthHeader: %v", err)
	}

	wantPrefix := "EG1-HMAC-SHA256 client_token=ct1;access_token=at1;timestamp=20240101T00:00:00+0000;nonce=00000000-0000-0000-0000-000000000000;signature="
	if len(header) <= len(wantPrefix) || header[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("unexpected header shape: %q", header)
	}
	if used.Timestamp != in.Timestamp || used.Nonce != in.Nonce {
		t.Fatalf("expected fixed timestamp/nonce to be preserved, got %+v", used)
	}
}

func TestAuthHeaderGeneratesFreshNonceWhenUnset(t *testing.T) {
	b := refBundle()
	in := refInputs()
	in.Nonce = ""

	_, used1, _ := AuthHeader(b, in)
	_, used2, _ := AuthHeader(b, in)
	if used1.Nonce == "" || used2.Nonce == "" {
		t.Fatalf("expected a nonce to be generated")
	}
	if used1.Nonce == used2.Nonce {
		t.Fatalf("expected distinct nonces across calls")
	}
}

func TestContentHashOnlyForBodiedMethods(t *testing.T) {
	if contentHash("GET", []byte("ignored"), DefaultMaxBodyBytes) != "" {
		t.Fatalf("GET must never produce a content hash")
	}
	if contentHash("POST", nil, DefaultMaxBodyBytes) != "" {
		t.Fatalf("empty body must produce empty content hash")
	}
	if contentHash("POST", []byte("x"), DefaultMaxBodyBytes) == "" {
		t.Fatalf("non-empty POST body must produce a content hash")
	}
}

func TestContentHashTruncatesToMaxBody(t *testing.T) {
	body := make([]byte, 100)
	for i := range body {
		body[i] = byte(i)
	}
	full := contentHash("POST", body, 100)
	truncated := contentHash("POST", body, 10)
	if full == truncated {
		t.Fatalf("expected truncation to change the hash")
	}
	again := contentHash("POST", body[:10], 10)
	if truncated != again {
		t.Fatalf("expected truncated hash to match hash of pre-truncated body")
	}
}

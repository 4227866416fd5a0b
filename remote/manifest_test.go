package remote

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"
)

func signedManifest(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, signedAt *time.Time) RemoteManifest {
	t.Helper()
	m := RemoteManifest{
		Source: "test-source",
		SignedAt: signedAt,
		Entries: []RemoteManifestEntry{
			{Domain: "adapter", Key: "cache", Provider: "redis", Factory: "oneiric/providers:redis"},
		},
	}
	canonical, err := Canonicalize(m)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	sig := ed25519.Sign(priv, canonical)
	m.Signature = base64.StdEncoding.EncodeToString(sig)
	m.SignatureAlgorithm = "ed25519"
	return m
}

func TestVerifierAcceptsValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	now := time.Now()
	m := signedManifest(t, pub, priv, &now)

	v, err := NewVerifier(VerifierConfig{
		VerifySignature:   true,
		TrustedPublicKeys: []string{base64.StdEncoding.EncodeToString(pub)},
		MaxAge:            time.Hour,
		AllowedSkew:       time.Minute,
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if _, err := v.Verify(m, now); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifierRejectsUntrustedSignature(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	otherPub, _, _ := ed25519.GenerateKey(nil)
	now := time.Now()
	m := signedManifest(t, otherPub, priv, &now)

	v, err := NewVerifier(VerifierConfig{
		VerifySignature:   true,
		TrustedPublicKeys: []string{base64.StdEncoding.EncodeToString(otherPub)},
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if _, err := v.Verify(m, now); err == nil {
		t.Fatal("expected signature verification to fail for a manifest signed by an untrusted key")
	}
}

func TestVerifierRejectsExpiredManifest(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	old := time.Now().Add(-48 * time.Hour)
	m := signedManifest(t, pub, priv, &old)

	v, err := NewVerifier(VerifierConfig{
		VerifySignature:   true,
		TrustedPublicKeys: []string{base64.StdEncoding.EncodeToString(pub)},
		MaxAge:            time.Hour,
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if _, err := v.Verify(m, time.Now()); err == nil {
		t.Fatal("expected an expired manifest to be rejected")
	}
}

func TestVerifierRequireSignedAtRejectsAbsentTimestamp(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	m := signedManifest(t, pub, priv, nil)

	v, err := NewVerifier(VerifierConfig{
		VerifySignature:   true,
		TrustedPublicKeys: []string{base64.StdEncoding.EncodeToString(pub)},
		RequireSignedAt:   true,
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if _, err := v.Verify(m, time.Now()); err == nil {
		t.Fatal("expected a manifest without signed_at to be rejected when require_signed_at is set")
	}

	// Without the knob, an absent signed_at stays accepted.
	lenient, err := NewVerifier(VerifierConfig{
		VerifySignature:   true,
		TrustedPublicKeys: []string{base64.StdEncoding.EncodeToString(pub)},
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if _, err := lenient.Verify(m, time.Now()); err != nil {
		t.Fatalf("Verify without require_signed_at: %v", err)
	}
}

func TestCanonicalizeSortsKeysDeterministically(t *testing.T) {
	m := RemoteManifest{
		Source: "x",
		Entries: []RemoteManifestEntry{
			{Domain: "adapter", Key: "cache", Provider: "redis", Factory: "a:b",
				Metadata: map[string]any{"z": 1, "a": 2}},
		},
	}
	c1, err := Canonicalize(m)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	c2, err := Canonicalize(m)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(c1) != string(c2) {
		t.Fatal("canonical form must be deterministic across calls")
	}
}

func TestParseManifestAcceptsYAML(t *testing.T) {
	yamlDoc := []byte("source: yaml-source\nentries:\n  - domain: adapter\n    key: cache\n    provider: redis\n    factory: a:b\n")
	m, err := ParseManifest(yamlDoc)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Source != "yaml-source" || len(m.Entries) != 1 {
		t.Fatalf("unexpected parse result: %+v", m)
	}
}

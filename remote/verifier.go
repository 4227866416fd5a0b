package remote

import (
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/oneiric/oneiric/internal/errs"
)

// VerifierConfig configures signature and freshness checks (§4.7.2, §6.1).
type VerifierConfig struct {
	VerifySignature   bool
	TrustedPublicKeys []string // base64-encoded Ed25519 public keys
	RequireSignedAt   bool
	MaxAge            time.Duration
	AllowedSkew       time.Duration
}

// Verifier checks a manifest's signature and freshness, grounded on the
// teacher's verifyManifestSignature (payload-over-canonical-bytes, Ed25519)
// generalized to the wire-format canonical form in §6.2.
type Verifier struct {
	cfg VerifierConfig
	pub []ed25519.PublicKey
}

// NewVerifier decodes cfg.TrustedPublicKeys once at construction.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{cfg: cfg}
	for _, encoded := range cfg.TrustedPublicKeys {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errs.Wrap(errs.SignatureInvalid, "", "", "malformed trusted public key", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, errs.New(errs.SignatureInvalid, "", "", "trusted public key has wrong length")
		}
		v.pub = append(v.pub, ed25519.PublicKey(raw))
	}
	return v, nil
}

// Verify checks m's signature (if verification is enabled, §4.7.2 "at least
// one trusted key verifies") and signed_at freshness window, and returns the
// canonical bytes that were (or would have been) signed.
func (v *Verifier) Verify(m RemoteManifest, now time.Time) ([]byte, error) {
	canonical, err := Canonicalize(m)
	if err != nil {
		return nil, err
	}

	if v.cfg.VerifySignature {
		if err := v.verifySignature(m, canonical); err != nil {
			return nil, err
		}
	}

	if err := v.checkFreshness(m, now); err != nil {
		return nil, err
	}

	return canonical, nil
}

func (v *Verifier) verifySignature(m RemoteManifest, canonical []byte) error {
	if m.Signature == "" {
		return errs.New(errs.SignatureInvalid, "", "", "manifest has no signature and verify_signature is enabled")
	}
	if len(v.pub) == 0 {
		return errs.New(errs.SignatureInvalid, "", "", "no trusted public keys configured")
	}

	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return errs.New(errs.SignatureInvalid, "", "", "malformed manifest signature")
	}

	for _, pub := range v.pub {
		if ed25519.Verify(pub, canonical, sig) {
			return nil
		}
	}
	return errs.New(errs.SignatureInvalid, "", "", "no trusted key verifies the manifest signature")
}

// checkFreshness enforces the signed_at window (§4.7.2, §9 Open Question 2:
// absent signed_at is accepted unless RequireSignedAt is set).
func (v *Verifier) checkFreshness(m RemoteManifest, now time.Time) error {
	if m.SignedAt == nil {
		if v.cfg.RequireSignedAt {
			return errs.New(errs.ManifestExpired, "", "", "manifest has no signed_at and require_signed_at is enabled")
		}
		return nil
	}

	signedAt := *m.SignedAt
	if v.cfg.MaxAge > 0 && now.Sub(signedAt) > v.cfg.MaxAge {
		return errs.New(errs.ManifestExpired, "", "", "manifest older than max_age")
	}
	if v.cfg.AllowedSkew > 0 && signedAt.After(now.Add(v.cfg.AllowedSkew)) {
		return errs.New(errs.ManifestExpired, "", "", "manifest signed_at is in the future beyond allowed_skew")
	}
	return nil
}

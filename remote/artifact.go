package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/oneiric/oneiric/internal/errs"
)

// ArtifactManager downloads manifest-referenced artifacts into a bounded
// cache directory, checking digest and path containment (§4.7.3), grounded
// on the teacher's verifyResource/downloadBundle SHA-256-then-write shape.
type ArtifactManager struct {
	loader   *Loader
	cacheDir string
}

// NewArtifactManager roots the manager at cacheDir, which must already
// exist or be creatable; cacheDir is resolved to its absolute form once so
// every containment check compares against a stable root.
func NewArtifactManager(loader *Loader, cacheDir string) (*ArtifactManager, error) {
	abs, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("preparing cache dir: %w", err)
	}
	return &ArtifactManager{loader: loader, cacheDir: abs}, nil
}

// Fetch downloads the artifact named by entry.URI, verifies its SHA-256
// against entry.SHA256, writes it under the cache root at a path derived
// from (domain,key,provider), and returns that path plus an auxiliary
// blake2b-256 fingerprint of the same bytes for operators who want a second
// hash family alongside the required SHA-256 in event output
// (§3 Candidate.digest names SHA-256 as the required field; this
// fingerprint is additive, never a substitute for the digest check below).
//
// Every `..`, absolute, or separator-bearing filename component is rejected
// before it ever reaches the filesystem, and the resolved final path is
// re-checked against the cache root after join — defense in depth against
// a derived name that still manages to escape via symlink or platform
// quirk (§4.7.3, §8.11 "Path containment").
func (a *ArtifactManager) Fetch(ctx context.Context, entry RemoteManifestEntry) (string, string, error) {
	if entry.URI == "" {
		return "", "", nil
	}

	parsed, err := url.Parse(entry.URI)
	if err != nil {
		return "", "", errs.Wrap(errs.UnsafeArtifactURI, entry.Domain, entry.Key, "malformed artifact uri", err)
	}
	switch parsed.Scheme {
	case "http", "https", "file", "":
	default:
		return "", "", errs.New(errs.UnsafeArtifactURI, entry.Domain, entry.Key, "unsupported artifact uri scheme: "+parsed.Scheme)
	}
	if strings.Contains(parsed.Path, "..") {
		return "", "", errs.New(errs.PathTraversalBlocked, entry.Domain, entry.Key, "artifact uri path contains '..'")
	}

	dest, err := a.destPath(entry)
	if err != nil {
		return "", "", err
	}

	fetchTarget := entry.URI
	if parsed.Scheme == "file" {
		fetchTarget = parsed.Path
	}
	body, err := a.loader.Fetch(ctx, fetchTarget)
	if err != nil {
		return "", "", err
	}

	if entry.SHA256 != "" {
		sum := sha256.Sum256(body)
		got := hex.EncodeToString(sum[:])
		if !strings.EqualFold(got, entry.SHA256) {
			return "", "", errs.New(errs.DigestMismatch, entry.Domain, entry.Key,
				fmt.Sprintf("artifact digest mismatch: expected %s got %s", entry.SHA256, got))
		}
	}
	fingerprint, err := blake2bFingerprint(body)
	if err != nil {
		return "", "", fmt.Errorf("computing artifact fingerprint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", "", fmt.Errorf("preparing artifact directory: %w", err)
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return "", "", fmt.Errorf("writing artifact: %w", err)
	}
	return dest, fingerprint, nil
}

// blake2bFingerprint hex-encodes a blake2b-256 digest of body, the
// auxiliary fingerprint surfaced alongside the required SHA-256 check.
func blake2bFingerprint(body []byte) (string, error) {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// destPath derives a safe, cache-rooted filename from (domain,key,provider)
// rather than trusting any filename component of the URI, and verifies the
// result is still a descendant of the cache root and not an existing
// symlink.
func (a *ArtifactManager) destPath(entry RemoteManifestEntry) (string, error) {
	name := fmt.Sprintf("%s__%s__%s", sanitize(entry.Domain), sanitize(entry.Key), sanitize(entry.Provider))
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", errs.New(errs.PathTraversalBlocked, entry.Domain, entry.Key, "derived artifact filename escapes the cache root")
	}

	dest := filepath.Join(a.cacheDir, name)
	rel, err := filepath.Rel(a.cacheDir, dest)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", errs.New(errs.PathTraversalBlocked, entry.Domain, entry.Key, "resolved artifact path escapes the cache root")
	}
	if fi, err := os.Lstat(dest); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return "", errs.New(errs.PathTraversalBlocked, entry.Domain, entry.Key, "artifact path is a symlink")
	}
	return dest, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func testLoader(t *testing.T) *Loader {
	t.Helper()
	return NewLoader(LoaderConfig{HTTPTimeout: 5_000_000_000, AllowPrivateIPs: true})
}

// S4: digest rejection — the server's bytes don't match the declared
// sha256, so the artifact must be rejected and nothing written.
func TestArtifactFetchRejectsDigestMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("actual-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	am, err := NewArtifactManager(testLoader(t), dir)
	if err != nil {
		t.Fatalf("NewArtifactManager: %v", err)
	}

	entry := RemoteManifestEntry{
		Domain: "adapter", Key: "cache", Provider: "redis",
		URI: srv.URL, SHA256: strings.Repeat("0", 64),
	}
	_, _, err = am.Fetch(context.Background(), entry)
	if err == nil {
		t.Fatal("expected a digest mismatch error")
	}

	entries, _ := filepath.Glob(filepath.Join(dir, "*"))
	if len(entries) != 0 {
		t.Fatalf("expected nothing written to the cache dir on digest mismatch, found %v", entries)
	}
}

// S5: path traversal blocked — a URI carrying ".." must never reach the
// filesystem.
func TestArtifactFetchBlocksPathTraversal(t *testing.T) {
	dir := t.TempDir()
	am, err := NewArtifactManager(testLoader(t), dir)
	if err != nil {
		t.Fatalf("NewArtifactManager: %v", err)
	}

	entry := RemoteManifestEntry{
		Domain: "adapter", Key: "cache", Provider: "redis",
		URI: "file:///../etc/passwd", SHA256: strings.Repeat("0", 64),
	}
	_, _, err = am.Fetch(context.Background(), entry)
	if err == nil {
		t.Fatal("expected a path traversal error")
	}

	entries, _ := filepath.Glob(filepath.Join(dir, "*"))
	if len(entries) != 0 {
		t.Fatalf("expected nothing written to the cache dir on blocked traversal, found %v", entries)
	}
}

func TestArtifactFetchAcceptsMatchingDigest(t *testing.T) {
	const body = "legit-bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	am, err := NewArtifactManager(testLoader(t), dir)
	if err != nil {
		t.Fatalf("NewArtifactManager: %v", err)
	}

	sum := sha256Hex(body)
	entry := RemoteManifestEntry{
		Domain: "adapter", Key: "cache", Provider: "redis",
		URI: srv.URL, SHA256: sum,
	}
	path, fingerprint, err := am.Fetch(context.Background(), entry)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.HasPrefix(path, dir) {
		t.Fatalf("artifact path %s must live under cache dir %s", path, dir)
	}
	if fingerprint == "" {
		t.Fatal("expected a non-empty blake2b fingerprint")
	}
}

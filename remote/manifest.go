// Package remote keeps the Registry in sync with externally-authored,
// signed manifests: fetch, verify, download-and-check artifacts, validate
// entries, and register the result (§4.7). Grounded on the teacher's
// cmd/slctl manifest.go fetch-then-verify shape (fetchBytes/downloadBundle/
// verifyManifestSignature), generalized from a fixed block-manifest schema
// to the arbitrary RemoteManifestEntry wire format this system defines.
package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// RemoteManifestEntry carries every field needed to form a registry.Candidate,
// plus the optional uri/sha256 pair identifying a remote artifact (§6.2).
type RemoteManifestEntry struct {
	Domain       string         `json:"domain" yaml:"domain"`
	Key          string         `json:"key" yaml:"key"`
	Provider     string         `json:"provider" yaml:"provider"`
	Factory      string         `json:"factory" yaml:"factory"`
	URI          string         `json:"uri,omitempty" yaml:"uri,omitempty"`
	SHA256       string         `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	StackLevel   int            `json:"stack_level,omitempty" yaml:"stack_level,omitempty"`
	Priority     *int           `json:"priority,omitempty" yaml:"priority,omitempty"`
	Version      string         `json:"version,omitempty" yaml:"version,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// RemoteManifest is the signed document listing remote candidates to
// install (§3 RemoteManifest, §6.2).
type RemoteManifest struct {
	Source             string                `json:"source" yaml:"source"`
	Signature          string                `json:"signature,omitempty" yaml:"signature,omitempty"`
	SignatureAlgorithm string                `json:"signature_algorithm,omitempty" yaml:"signature_algorithm,omitempty"`
	SignedAt           *time.Time            `json:"signed_at,omitempty" yaml:"signed_at,omitempty"`
	Entries            []RemoteManifestEntry `json:"entries" yaml:"entries"`
}

// ParseManifest decodes a manifest from either YAML or JSON bytes (§6.2
// "YAML or JSON object"). JSON is attempted first since it is a strict
// subset of YAML and this avoids YAML's looser type coercion for
// JSON-authored manifests.
func ParseManifest(data []byte) (RemoteManifest, error) {
	var m RemoteManifest
	if json.Valid(data) {
		if err := json.Unmarshal(data, &m); err == nil {
			return m, nil
		}
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return RemoteManifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	return m, nil
}

// Canonicalize produces the canonical signing form (§6.2): the manifest
// object with signature/signature_algorithm removed, keys recursively
// sorted, minimal whitespace. Go's encoding/json already refuses NaN/Inf by
// construction, satisfying that part of the invariant without extra code.
func Canonicalize(m RemoteManifest) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("re-parsing manifest for canonicalization: %w", err)
	}
	delete(generic, "signature")
	delete(generic, "signature_algorithm")

	var buf bytes.Buffer
	if err := canonicalEncode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// canonicalEncode walks v and writes a byte-stable form: object keys sorted,
// no insignificant whitespace. json.Marshal already sorts map[string]any
// keys, but nested maps decoded from manifest.Metadata (map[string]any) must
// be re-marshaled the same way to stay deterministic across Go versions, so
// this is explicit rather than relying on the stdlib default.
func canonicalEncode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := canonicalEncode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := canonicalEncode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

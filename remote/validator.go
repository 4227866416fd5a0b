package remote

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/oneiric/oneiric/factory"
	"github.com/oneiric/oneiric/internal/errs"
	"github.com/oneiric/oneiric/registry"
)

var entryKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)

// EntryValidator checks a RemoteManifestEntry's charset, bounds, and URI
// scheme before it is handed to the Factory Guard and Registry (§4.7.4).
type EntryValidator struct {
	knownDomains map[registry.Domain]bool
}

// NewEntryValidator builds a validator scoped to the given domains (the
// same closed-but-extensible set the Registry recognizes).
func NewEntryValidator(domains ...registry.Domain) *EntryValidator {
	known := make(map[registry.Domain]bool, len(domains))
	for _, d := range domains {
		known[d] = true
	}
	return &EntryValidator{knownDomains: known}
}

// Validate checks entry and, on success, returns the registry.Candidate it
// describes (with a Symbolic factory descriptor — manifests never carry
// in-process callables, §4.3 / §6.2).
func (v *EntryValidator) Validate(entry RemoteManifestEntry) (registry.Candidate, error) {
	domain := registry.Domain(entry.Domain)
	if len(v.knownDomains) > 0 && !v.knownDomains[domain] {
		return registry.Candidate{}, errs.New(errs.InvalidCandidate, entry.Domain, entry.Key, "unknown domain: "+entry.Domain)
	}
	if !entryKeyPattern.MatchString(entry.Key) {
		return registry.Candidate{}, errs.New(errs.InvalidCandidate, entry.Domain, entry.Key, "key fails charset check")
	}
	if !entryKeyPattern.MatchString(entry.Provider) {
		return registry.Candidate{}, errs.New(errs.InvalidCandidate, entry.Domain, entry.Key, "provider fails charset check")
	}
	if entry.Factory == "" || !strings.Contains(entry.Factory, ":") {
		return registry.Candidate{}, errs.New(errs.InvalidCandidate, entry.Domain, entry.Key, "factory must be a \"module:symbol\" string")
	}
	if entry.URI != "" {
		parsed, err := url.Parse(entry.URI)
		if err != nil {
			return registry.Candidate{}, errs.Wrap(errs.UnsafeArtifactURI, entry.Domain, entry.Key, "malformed uri", err)
		}
		switch parsed.Scheme {
		case "http", "https", "file":
		default:
			return registry.Candidate{}, errs.New(errs.UnsafeArtifactURI, entry.Domain, entry.Key, "unsupported uri scheme: "+parsed.Scheme)
		}
		if entry.SHA256 == "" {
			return registry.Candidate{}, errs.New(errs.InvalidCandidate, entry.Domain, entry.Key, "uri requires sha256")
		}
	}
	if entry.StackLevel < -100 || entry.StackLevel > 100 {
		return registry.Candidate{}, errs.New(errs.InvalidCandidate, entry.Domain, entry.Key, "stack_level out of [-100,100]")
	}
	if entry.Priority != nil && (*entry.Priority < -1000 || *entry.Priority > 1000) {
		return registry.Candidate{}, errs.New(errs.InvalidCandidate, entry.Domain, entry.Key, "priority out of [-1000,1000]")
	}

	c := registry.Candidate{
		Domain:     domain,
		Key:        entry.Key,
		Provider:   entry.Provider,
		Factory:    factory.NewSymbolic(entry.Factory),
		Priority:   entry.Priority,
		StackLevel: entry.StackLevel,
		Source:     registry.SourceRemote,
		Digest:     strings.ToLower(entry.SHA256),
		Metadata: registry.Metadata{
			Capabilities: entry.Capabilities,
			Version:      entry.Version,
		},
	}
	if owner, ok := stringField(entry.Metadata, "owner"); ok {
		c.Metadata.Owner = owner
	}
	if settingsModel, ok := stringField(entry.Metadata, "settings_model"); ok {
		c.Metadata.SettingsModel = settingsModel
	}
	return c, nil
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

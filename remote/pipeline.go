package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/oneiric/oneiric/internal/logging"
	"github.com/oneiric/oneiric/internal/telemetry"
	"github.com/oneiric/oneiric/registry"
)

// SyncResult summarizes one pipeline run. Registered and Rejected are totals
// across all domains; no per-domain breakdown is kept.
type SyncResult struct {
	Source     string
	Registered int
	Rejected   int
	Errors     []error
}

// Pipeline composes the Loader, Verifier, ArtifactManager, and
// EntryValidator into the end-to-end remote manifest sync described in
// §4.7: fetch, verify, fetch-and-check artifacts, validate entries,
// register.
type Pipeline struct {
	loader    *Loader
	verifier  *Verifier
	artifacts *ArtifactManager
	validator *EntryValidator
	reg       *registry.Registry
	sink      telemetry.Sink
	log       *logging.Logger
}

// NewPipeline composes the pipeline's collaborators.
func NewPipeline(loader *Loader, verifier *Verifier, artifacts *ArtifactManager, validator *EntryValidator, reg *registry.Registry, sink telemetry.Sink, log *logging.Logger) *Pipeline {
	if sink == nil {
		sink = telemetry.NoopSink{}
	}
	if log == nil {
		log = logging.NewFromEnv("remote")
	}
	return &Pipeline{loader: loader, verifier: verifier, artifacts: artifacts, validator: validator, reg: reg, sink: sink, log: log}
}

// Sync fetches target, verifies it, and registers every valid entry,
// emitting remote-sync-* events and counters at every stage (§4.7, §4.10).
func (p *Pipeline) Sync(ctx context.Context, target string) (SyncResult, error) {
	p.sink.Event(telemetry.Event{Kind: "remote-sync-start", Fields: map[string]any{"target": target}})
	start := time.Now()

	data, err := p.loader.Fetch(ctx, target)
	if err != nil {
		return p.fail(target, start, fmt.Errorf("fetching manifest: %w", err))
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return p.fail(target, start, err)
	}

	if _, err := p.verifier.Verify(manifest, time.Now()); err != nil {
		p.sink.Count("remote_signature_checks_total", map[string]string{"result": "invalid"}, 1)
		return p.fail(target, start, err)
	}
	p.sink.Count("remote_signature_checks_total", map[string]string{"result": "valid"}, 1)

	result := SyncResult{Source: manifest.Source}
	for _, entry := range manifest.Entries {
		if err := p.applyEntry(ctx, entry); err != nil {
			result.Rejected++
			result.Errors = append(result.Errors, err)
			p.log.WithError(err).Warn("rejecting remote manifest entry")
			continue
		}
		result.Registered++
	}

	p.sink.Count("remote_sync_entries_total", map[string]string{"result": "registered"}, float64(result.Registered))
	p.sink.Count("remote_sync_entries_total", map[string]string{"result": "rejected"}, float64(result.Rejected))
	p.sink.Event(telemetry.Event{Kind: "remote-sync-success", Fields: map[string]any{
		"target": target, "registered": result.Registered, "rejected": result.Rejected,
	}})
	p.sink.Observe("remote_sync", map[string]string{"target": target}, time.Since(start))
	return result, nil
}

func (p *Pipeline) applyEntry(ctx context.Context, entry RemoteManifestEntry) error {
	candidate, err := p.validator.Validate(entry)
	if err != nil {
		return err
	}

	if entry.URI != "" && p.artifacts != nil {
		_, fingerprint, err := p.artifacts.Fetch(ctx, entry)
		if err != nil {
			p.sink.Count("remote_digest_checks_total", map[string]string{"result": "mismatch"}, 1)
			return err
		}
		p.sink.Count("remote_digest_checks_total", map[string]string{"result": "match"}, 1)
		p.sink.Event(telemetry.Event{Kind: "remote-sync-artifact", Fields: map[string]any{
			"domain": entry.Domain, "key": entry.Key, "provider": entry.Provider,
			"sha256": entry.SHA256, "blake2b_256": fingerprint,
		}})
	}

	if _, err := p.reg.Register(candidate); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) fail(target string, start time.Time, err error) (SyncResult, error) {
	p.sink.Event(telemetry.Event{Kind: "remote-sync-failure", Fields: map[string]any{"target": target, "error": err.Error()}})
	p.sink.Count("remote_sync_failures_total", map[string]string{"target": target}, 1)
	p.sink.Observe("remote_sync", map[string]string{"target": target}, time.Since(start))
	return SyncResult{}, err
}

package lifecycle

import (
	"github.com/oneiric/oneiric/registry"
)

// Current returns the live Handle for (domain,key) if one exists, without
// triggering activation. Domain Bridges use this to implement reuse-when-
// not-refreshing (§4.5 `use`).
func (m *Manager) Current(domain registry.Domain, key string) (Handle, bool) {
	b := m.bindingFor(domain, key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Handle{}, false
	}
	return b.handleLocked(), true
}

// Pause flips the paused flag, mirrors it into the binding, persists via the
// Activity Store and the status snapshot, and emits an activity-event
// (§4.4 pause). A pending swap is skipped while paused; pre-existing
// handles keep being served (§4.4, Open Question 1).
func (m *Manager) Pause(domain registry.Domain, key string, note string) error {
	return m.setActivity(domain, key, func(b *binding) error {
		b.paused = true
		if note != "" {
			b.note = note
		}
		if m.activity != nil {
			return m.activity.Pause(string(domain), key, note)
		}
		return nil
	})
}

// Resume clears the paused flag (§4.4).
func (m *Manager) Resume(domain registry.Domain, key string) error {
	return m.setActivity(domain, key, func(b *binding) error {
		b.paused = false
		if m.activity != nil {
			return m.activity.Resume(string(domain), key)
		}
		return nil
	})
}

// Drain flips the draining flag; pending swaps are delayed until it clears
// (§4.4).
func (m *Manager) Drain(domain registry.Domain, key string, note string) error {
	return m.setActivity(domain, key, func(b *binding) error {
		b.draining = true
		if note != "" {
			b.note = note
		}
		if m.activity != nil {
			return m.activity.Drain(string(domain), key, note)
		}
		return nil
	})
}

// ClearDrain clears the draining flag.
func (m *Manager) ClearDrain(domain registry.Domain, key string) error {
	return m.setActivity(domain, key, func(b *binding) error {
		b.draining = false
		if m.activity != nil {
			return m.activity.ClearDrain(string(domain), key)
		}
		return nil
	})
}

// Activity returns the current pause/drain flags for (domain,key).
func (m *Manager) Activity(domain registry.Domain, key string) (paused, draining bool, note string) {
	b := m.bindingFor(domain, key)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused, b.draining, b.note
}

func (m *Manager) setActivity(domain registry.Domain, key string, apply func(*binding) error) error {
	b := m.bindingFor(domain, key)
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := apply(b); err != nil {
		return err
	}
	m.persist(b)
	return nil
}

package boot

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/probectl/internal/tools"
)

var (
	ErrDuplicateService = errors.New("boot: duplicate service")
	ErrOverrideConflict = errors.New("boot: override conflict")
	ErrAlreadyBooted    = errors.New("boot: manager already booted")
)

// Record tags a discovered service with its resolution role.
type Record struct {
	svc       Service
	isDefault bool
	overrides string
}

// Default marks svc as the fallback implementation for its own kind. It is
// ignored when an entry for the kind is already present, and an override
// replaces it; a sole registration for the kind after it fails the boot
// with ErrDuplicateService.
func Default(svc Service) Record {
	return Record{svc: svc, isDefault: true}
}

// Override marks svc as a replacement for the default implementation
// registered (or yet to be registered) under targetKind.
func Override(targetKind string, svc Service) Record {
	return Record{svc: svc, overrides: targetKind}
}

// Sole marks svc as the only implementation of its kind; a second sole
// registration for the same kind is a fatal configuration error.
func Sole(svc Service) Record {
	return Record{svc: svc}
}

type activeEntry struct {
	svc       Service
	isDefault bool
}

// Manager discovers, resolves, boots, and shuts down the service set.
type Manager struct {
	discovered []Record
	active     map[string]activeEntry
	order      []string
	booted     bool
}

func NewManager() *Manager {
	return &Manager{active: make(map[string]activeEntry)}
}

// Register adds a discovered service record. All registration happens before
// Boot; the manager is not safe for concurrent registration.
func (m *Manager) Register(records ...Record) {
	m.discovered = append(m.discovered, records...)
}

// Boot resolves the active set and runs prepare (ascending priority), start
// (ascending priority), and on-complete (discovery order). Resolution errors
// abort the boot; lifecycle-phase errors are logged per service and the
// remaining services continue.
func (m *Manager) Boot() error {
	if m.booted {
		return ErrAlreadyBooted
	}
	if err := m.resolve(); err != nil {
		return err
	}
	m.booted = true

	m.runPhase("prepare", m.byPriority(false), Service.Prepare)
	m.runPhase("start", m.byPriority(false), Service.Start)
	m.runPhase("on-complete", m.byDiscovery(), Service.OnComplete)
	return nil
}

// Shutdown stops every active service in descending priority order.
func (m *Manager) Shutdown() {
	m.runPhase("shutdown", m.byPriority(true), Service.Shutdown)
}

// Find returns the active service for kind, or nil when none resolved.
func (m *Manager) Find(kind string) Service {
	entry, ok := m.active[kind]
	if !ok {
		return nil
	}
	return entry.svc
}

// Kinds returns the active kinds in discovery order.
func (m *Manager) Kinds() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

func (m *Manager) resolve() error {
	for _, rec := range m.discovered {
		switch {
		case rec.isDefault:
			kind := rec.svc.Kind()
			if _, ok := m.active[kind]; ok {
				// A sole, override, or earlier default is already in place.
				continue
			}
			m.install(kind, activeEntry{svc: rec.svc, isDefault: true})

		case rec.overrides != "":
			target := rec.overrides
			if existing, ok := m.active[target]; ok {
				if !existing.isDefault {
					return fmt.Errorf("%w: %s already overridden for kind %q",
						ErrOverrideConflict, existing.svc.Kind(), target)
				}
				m.active[target] = activeEntry{svc: rec.svc}
			} else {
				// Installing early pre-empts any later default for the kind.
				m.install(target, activeEntry{svc: rec.svc})
			}

		default:
			kind := rec.svc.Kind()
			if _, ok := m.active[kind]; ok {
				return fmt.Errorf("%w: kind %q", ErrDuplicateService, kind)
			}
			m.install(kind, activeEntry{svc: rec.svc})
		}
	}
	return nil
}

func (m *Manager) install(kind string, entry activeEntry) {
	if _, ok := m.active[kind]; !ok {
		m.order = append(m.order, kind)
	}
	m.active[kind] = entry
}

func (m *Manager) byDiscovery() []Service {
	out := make([]Service, 0, len(m.order))
	for _, kind := range m.order {
		out = append(out, m.active[kind].svc)
	}
	return out
}

func (m *Manager) byPriority(reverse bool) []Service {
	out := m.byDiscovery()
	sort.SliceStable(out, func(i, j int) bool {
		if reverse {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].Priority() < out[j].Priority()
	})
	return out
}

func (m *Manager) runPhase(phase string, services []Service, fn func(Service) error) {
	for _, svc := range services {
		name := svc.Kind()
		tools.Guarded(phase+":"+name, func() {
			if err := fn(svc); err != nil {
				log.Error().Err(err).
					Str("phase", phase).
					Str("service", name).
					Msg("service lifecycle phase failed")
			}
		})
	}
}

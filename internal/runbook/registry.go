// Package runbook holds the declarative policy mapping incident categories to
// the remediation actions operators allow. No runbook match means no action.
package runbook

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/sentinelops/remedy-core/pkg/logger"
)

// Wildcard matches any service in a runbook entry.
const Wildcard = "*"

// Entry allows a set of actions for one (category, service) pair. Service may
// be the wildcard.
type Entry struct {
	Category       string   `yaml:"category"`
	Service        string   `yaml:"service"`
	AllowedActions []string `yaml:"allowed_actions"`
	MaxPerHour     int      `yaml:"max_per_hour"`
	Notes          string   `yaml:"notes"`
}

type runbookFile struct {
	Runbooks []Entry `yaml:"runbooks"`
}

// Registry resolves allowed actions. Lookup prefers an exact (category,
// service) entry over a wildcard one.
type Registry struct {
	mu      sync.RWMutex
	path    string
	exact   map[string]Entry // "category|service"
	bycat   map[string]Entry // wildcard entries keyed by category
	logger  logger.Logger
	watcher *fsnotify.Watcher
}

// Load reads the runbook file and builds a registry.
func Load(path string, log logger.Logger) (*Registry, error) {
	r := &Registry{path: path, logger: log}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read runbooks: %w", err)
	}
	var f runbookFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse runbooks %s: %w", r.path, err)
	}

	exact := make(map[string]Entry)
	bycat := make(map[string]Entry)
	for _, e := range f.Runbooks {
		if e.Service == "" || e.Service == Wildcard {
			bycat[e.Category] = e
			continue
		}
		exact[e.Category+"|"+e.Service] = e
	}

	r.mu.Lock()
	r.exact = exact
	r.bycat = bycat
	r.mu.Unlock()
	return nil
}

// Lookup returns the matching entry for a category and service.
func (r *Registry) Lookup(category, service string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.exact[category+"|"+service]; ok {
		return e, true
	}
	e, ok := r.bycat[category]
	return e, ok
}

// GetAllowedActions returns the action types permitted for a category and
// service. Nil means nothing is permitted.
func (r *Registry) GetAllowedActions(category, service string) []string {
	e, ok := r.Lookup(category, service)
	if !ok {
		return nil
	}
	out := make([]string, len(e.AllowedActions))
	copy(out, e.AllowedActions)
	return out
}

// IsAllowed reports whether the action type is runbook-approved for the
// category and service.
func (r *Registry) IsAllowed(category, service, actionType string) bool {
	for _, a := range r.GetAllowedActions(category, service) {
		if a == actionType {
			return true
		}
	}
	return false
}

// Watch reloads the registry when the runbook file changes. A reload failure
// keeps the previous policy in place.
func (r *Registry) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("runbook watcher: %w", err)
	}
	if err := w.Add(r.path); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", r.path, err)
	}
	r.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.reload(); err != nil {
					r.logger.Error("runbook reload failed, keeping previous policy", "error", err)
					continue
				}
				r.logger.Info("runbooks reloaded", "path", r.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Warn("runbook watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher if one is running.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

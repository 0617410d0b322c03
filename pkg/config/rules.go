package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/stackmason/tenantd/pkg/observability"
	"github.com/stackmason/tenantd/pkg/slug"
	"github.com/stackmason/tenantd/pkg/tenants"
)

// Rules is the operator-versioned provisioning policy: slug constraints and
// the authority tables consulted by the availability check. It ships as a
// YAML file so reserved words can change without a deploy.
type Rules struct {
	Slug            slug.Rules               `yaml:"slug"`
	AuthorityTables []tenants.AuthorityTable `yaml:"authority_tables"`
}

// DefaultRules returns the built-in policy used when no rules file is
// configured.
func DefaultRules() *Rules {
	return &Rules{
		Slug:            slug.DefaultRules(),
		AuthorityTables: tenants.DefaultAuthorityTables(),
	}
}

// LoadRules reads and validates a rules file. An empty path yields the
// defaults.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	rules := DefaultRules()
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if err := rules.validate(); err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rules, nil
}

func (r *Rules) validate() error {
	if r.Slug.MinLength < 1 {
		return fmt.Errorf("slug min length must be at least 1")
	}
	if r.Slug.MaxLength < r.Slug.MinLength {
		return fmt.Errorf("slug max length %d is below min length %d", r.Slug.MaxLength, r.Slug.MinLength)
	}
	if len(r.AuthorityTables) == 0 {
		return fmt.Errorf("at least one authority table is required")
	}
	for _, at := range r.AuthorityTables {
		if at.Table == "" || at.Column == "" {
			return fmt.Errorf("authority table entries need both table and column")
		}
	}
	return nil
}

// RulesWatcher holds the current rules and hot-reloads them when the file
// changes on disk. Readers always see a complete, validated snapshot; a
// bad edit keeps the previous rules in effect.
type RulesWatcher struct {
	path     string
	current  atomic.Pointer[Rules]
	watcher  *fsnotify.Watcher
	logger   *observability.Logger
	onReload atomic.Pointer[func(*Rules)]
	done     chan struct{}
}

// NewRulesWatcher loads the rules file and starts watching it. With an
// empty path the watcher serves defaults and never reloads.
func NewRulesWatcher(path string, logger *observability.Logger) (*RulesWatcher, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}

	w := &RulesWatcher{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	w.current.Store(rules)

	if path == "" {
		return w, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create rules watcher: %w", err)
	}
	// Watch the directory: editors and configmap updates replace the file
	// rather than writing it in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch rules directory: %w", err)
	}
	w.watcher = watcher

	go w.run()
	return w, nil
}

// Rules returns the current snapshot.
func (w *RulesWatcher) Rules() *Rules {
	return w.current.Load()
}

// OnReload registers a callback invoked after every successful reload.
func (w *RulesWatcher) OnReload(fn func(*Rules)) {
	w.onReload.Store(&fn)
}

func (w *RulesWatcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("rules watcher error")
		}
	}
}

func (w *RulesWatcher) reload() {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.WithError(err).Error("rules reload failed; keeping previous rules")
		return
	}
	w.current.Store(rules)
	w.logger.WithField("path", w.path).Info("rules reloaded")
	if fn := w.onReload.Load(); fn != nil {
		(*fn)(rules)
	}
}

// Close stops watching. Safe to call on a watcher without a file.
func (w *RulesWatcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

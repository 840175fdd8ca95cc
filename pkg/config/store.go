package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrAccessDenied is returned when a scope addresses a namespace other than
// its own. Namespaces and keys may not contain '/' — that is the namespace
// separator in the document's external form.
var ErrAccessDenied = errors.New("config: cross-namespace access denied")

// GlobalNamespace holds host-level settings that belong to no plugin.
const GlobalNamespace = "global"

// Store is a mutex-guarded JSON settings document persisted at a file path.
type Store struct {
	mu   sync.Mutex
	path string
	doc  []byte
	log  *logrus.Logger
}

// Open loads the settings document at path, creating an empty one if the
// file does not exist yet.
func Open(path string, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.New()
	}

	doc, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		doc = []byte("{}")
	case err != nil:
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("settings file %s is not valid JSON", path)
	}

	return &Store{path: path, doc: doc, log: log}, nil
}

// Get returns the value stored under (namespace, key), or def when unset.
func (s *Store) Get(namespace, key string, def any) (any, error) {
	path, err := settingPath(namespace, key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	result := gjson.GetBytes(s.doc, path)
	s.mu.Unlock()

	if !result.Exists() {
		return def, nil
	}
	return result.Value(), nil
}

// Set stores value under (namespace, key) and persists the document.
func (s *Store) Set(namespace, key string, value any) error {
	path, err := settingPath(namespace, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := sjson.SetBytes(s.doc, path, value)
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", namespace, key, err)
	}
	s.doc = doc

	if err := s.flush(); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"namespace": namespace,
		"key":       key,
	}).Debug("Setting updated")
	return nil
}

// ClearNamespace removes every key under namespace and persists the
// document. Clearing an absent namespace is a no-op.
func (s *Store) ClearNamespace(namespace string) error {
	if err := validSegment(namespace); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := sjson.DeleteBytes(s.doc, escapeSegment(namespace))
	if err != nil {
		return fmt.Errorf("failed to clear namespace %s: %w", namespace, err)
	}
	s.doc = doc

	return s.flush()
}

// Scope returns a view of the store restricted to one namespace. The
// registry hands each plugin a scope for its own name.
func (s *Store) Scope(namespace string) *Scope {
	return &Scope{store: s, namespace: namespace}
}

// flush writes the document to disk. Caller holds the mutex.
func (s *Store) flush() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, s.doc, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// Scope is a namespace-bound view of a Store. All plugin settings access
// goes through a Scope so a plugin can only see its own namespace.
type Scope struct {
	store     *Store
	namespace string
}

// Namespace returns the namespace this scope is bound to.
func (sc *Scope) Namespace() string { return sc.namespace }

// Get returns the value stored under key in this scope's namespace, or def
// when unset.
func (sc *Scope) Get(key string, def any) (any, error) {
	return sc.store.Get(sc.namespace, key, def)
}

// GetString is Get with a string assertion; non-string values fall back to
// def.
func (sc *Scope) GetString(key, def string) string {
	v, err := sc.Get(key, def)
	if err != nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// GetBool is Get with a bool assertion; non-bool values fall back to def.
func (sc *Scope) GetBool(key string, def bool) bool {
	v, err := sc.Get(key, def)
	if err != nil {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// Set stores value under key in this scope's namespace.
func (sc *Scope) Set(key string, value any) error {
	return sc.store.Set(sc.namespace, key, value)
}

// settingPath builds the gjson path for (namespace, key), rejecting
// attempts to address outside the namespace.
func settingPath(namespace, key string) (string, error) {
	if err := validSegment(namespace); err != nil {
		return "", err
	}
	if err := validSegment(key); err != nil {
		return "", err
	}
	return escapeSegment(namespace) + "." + escapeSegment(key), nil
}

// validSegment rejects empty segments and separator characters that would
// let a key escape into another namespace.
func validSegment(segment string) error {
	if segment == "" || strings.ContainsAny(segment, "/\\") {
		return fmt.Errorf("%w: invalid segment %q", ErrAccessDenied, segment)
	}
	return nil
}

// escapeSegment neutralizes gjson path syntax inside a single segment.
var segmentEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

func escapeSegment(segment string) string {
	return segmentEscaper.Replace(segment)
}

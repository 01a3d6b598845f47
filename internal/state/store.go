// Package state persists the set of domains already handed to a crawl task.
package state

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPath is used when no state file is configured.
const DefaultPath = "seen_domains.gob"

// SeenSet is the set of network locations already dispatched. It is not safe
// for concurrent use; the scheduler's dispatch loop is its only owner.
type SeenSet struct {
	hosts map[string]struct{}
}

// NewSeenSet returns a set holding hosts.
func NewSeenSet(hosts ...string) *SeenSet {
	s := &SeenSet{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		s.hosts[h] = struct{}{}
	}
	return s
}

// MarkIfNew inserts host and reports whether it was absent.
func (s *SeenSet) MarkIfNew(host string) bool {
	if _, ok := s.hosts[host]; ok {
		return false
	}
	s.hosts[host] = struct{}{}
	return true
}

// Contains reports whether host has been seen.
func (s *SeenSet) Contains(host string) bool {
	_, ok := s.hosts[host]
	return ok
}

// Len returns the number of hosts in the set.
func (s *SeenSet) Len() int {
	return len(s.hosts)
}

// Hosts returns the members in sorted order.
func (s *SeenSet) Hosts() []string {
	out := make([]string, 0, len(s.hosts))
	for h := range s.hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// FileStore keeps a gob snapshot of a SeenSet on the local filesystem.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("state path %s is a directory", path)
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file yields an empty set.
func (s *FileStore) Load() (*SeenSet, error) {
	// #nosec G304 -- the operator chooses the state path.
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewSeenSet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", s.path, err)
	}
	defer f.Close()

	var hosts []string
	if err := gob.NewDecoder(f).Decode(&hosts); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", s.path, err)
	}
	return NewSeenSet(hosts...), nil
}

// Save overwrites the snapshot. The new file is written beside the target and
// renamed over it, so a crash mid-save leaves the previous snapshot intact.
func (s *FileStore) Save(set *SeenSet) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if err := gob.NewEncoder(tmp).Encode(set.Hosts()); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("encode state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state %s: %w", s.path, err)
	}
	return nil
}

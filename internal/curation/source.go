package curation

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"despesas/internal/core"
)

var ignoredDirs = map[string]struct{}{
	".git": {}, ".venv": {}, "node_modules": {}, "__pycache__": {}, "dist": {}, "build": {},
}

// Source gives access to the CSV feeds under a root directory. Writes to the
// same file are serialized in arrival order.
type Source struct {
	root        string
	defaultFile string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSource(root, defaultFile string) (*Source, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve curation root: %w", err)
	}
	return &Source{root: abs, defaultFile: defaultFile, locks: map[string]*sync.Mutex{}}, nil
}

// Root is the absolute curation root.
func (s *Source) Root() string { return s.root }

// Available lists the CSV files under the root, relative and sorted.
// Tooling and dependency directories are skipped.
func (s *Source) Available() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := ignoredDirs[d.Name()]; skip && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".csv") {
			rel, err := filepath.Rel(s.root, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, core.SourceUnavailablef("list CSV files: %v", err)
	}
	sort.Strings(files)
	return files, nil
}

// Resolve maps a user supplied file to an absolute path inside the root and
// its root-relative name. An empty file means the default feed, or the first
// available one when the default does not exist.
func (s *Source) Resolve(file string) (abs, rel string, err error) {
	if file == "" {
		file = s.defaultFile
		if _, statErr := os.Stat(s.abs(file)); file == "" || statErr != nil {
			files, err := s.Available()
			if err != nil {
				return "", "", err
			}
			if len(files) == 0 {
				return "", "", core.SourceUnavailablef("CSV not found: %s", s.defaultFile)
			}
			file = files[0]
		}
	}

	abs = s.abs(file)
	if !strings.EqualFold(filepath.Ext(abs), ".csv") {
		return "", "", core.SourceUnavailablef("only CSV files are supported: %s", file)
	}
	rel, err = filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", core.SourceUnavailablef("file must be inside the curation root: %s", file)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", "", core.SourceUnavailablef("CSV not found: %s", rel)
	}
	if info.IsDir() {
		return "", "", core.SourceUnavailablef("not a file: %s", rel)
	}
	return abs, filepath.ToSlash(rel), nil
}

func (s *Source) abs(file string) string {
	if filepath.IsAbs(file) {
		return filepath.Clean(file)
	}
	return filepath.Join(s.root, file)
}

func (s *Source) lock(abs string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[abs]
	if !ok {
		l = &sync.Mutex{}
		s.locks[abs] = l
	}
	return l
}

func (s *Source) read(abs, rel string) (*Feed, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, core.SourceUnavailablef("read %s: %v", rel, err)
	}
	return Parse(rel, bytes.NewReader(data))
}

// Load parses a feed.
func (s *Source) Load(file string) (*Feed, error) {
	abs, rel, err := s.Resolve(file)
	if err != nil {
		return nil, err
	}
	l := s.lock(abs)
	l.Lock()
	defer l.Unlock()
	return s.read(abs, rel)
}

// Modify loads a feed under its file lock and hands it to fn. When fn
// reports a change the feed is written back atomically before the lock is
// released. An error from fn leaves the file untouched.
func (s *Source) Modify(file string, fn func(*Feed) (changed bool, err error)) (*Feed, error) {
	abs, rel, err := s.Resolve(file)
	if err != nil {
		return nil, err
	}
	l := s.lock(abs)
	l.Lock()
	defer l.Unlock()

	feed, err := s.read(abs, rel)
	if err != nil {
		return nil, err
	}
	changed, err := fn(feed)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := writeAtomic(abs, feed); err != nil {
			return nil, err
		}
		slog.Debug("Curation feed written", "component", "curation", "file", rel)
	}
	return feed, nil
}

// ExportKept writes the keep rows of file next to it as
// <stem>_keep_categorized.csv and returns that feed.
func (s *Source) ExportKept(file string) (*Feed, error) {
	abs, rel, err := s.Resolve(file)
	if err != nil {
		return nil, err
	}
	l := s.lock(abs)
	l.Lock()
	defer l.Unlock()

	feed, err := s.read(abs, rel)
	if err != nil {
		return nil, err
	}
	outAbs := strings.TrimSuffix(abs, filepath.Ext(abs)) + "_keep_categorized.csv"
	outRel, _ := filepath.Rel(s.root, outAbs)
	kept := feed.Kept(filepath.ToSlash(outRel))

	out := s.lock(outAbs)
	out.Lock()
	defer out.Unlock()
	if err := writeAtomic(outAbs, kept); err != nil {
		return nil, err
	}
	return kept, nil
}

// writeAtomic writes to a sibling temp file and renames it over path.
func writeAtomic(path string, feed *Feed) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := feed.Write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", feed.File, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", feed.File, err)
	}
	return nil
}

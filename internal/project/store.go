package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Store is a YAML file-backed project configuration store. Writes go through
// a write-then-adopt cycle: the new state is persisted to disk first and only
// adopted in memory once the write succeeded, so the in-memory view never
// diverges from the file on write failure.
type Store struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	projects map[string]Config
}

type storeFile struct {
	Projects map[string]Config `yaml:"projects"`
}

// Open loads the store from path. A missing file yields an empty store;
// the file is created on first write.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		path:     path,
		logger:   logger.With().Str("component", "project.store").Logger(),
		projects: make(map[string]Config),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", path).Msg("projects file not found, starting empty")
			return s, nil
		}
		return nil, fmt.Errorf("reading projects file: %w", err)
	}

	var f storeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing projects file: %w", err)
	}
	if f.Projects != nil {
		s.projects = f.Projects
	}

	s.logger.Info().Int("projects", len(s.projects)).Msg("projects loaded")
	return s, nil
}

// ListProjects returns all project names, sorted for stable iteration.
func (s *Store) ListProjects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.projects))
	for name := range s.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SlackConfig returns a copy of the project's Slack integration config.
func (s *Store) SlackConfig(name string) (SlackConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[name]
	if !ok || p.Integration.Slack == nil {
		return SlackConfig{}, false
	}
	return p.Integration.Slack.Clone(), true
}

// UpdateSlackConfig persists a new Slack config for the project and adopts it
// in memory only after the write succeeded.
func (s *Store) UpdateSlackConfig(name string, cfg SlackConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]Config, len(s.projects)+1)
	for k, v := range s.projects {
		next[k] = v
	}
	p := next[name]
	c := cfg.Clone()
	p.Integration.Slack = &c
	next[name] = p

	if err := s.write(next); err != nil {
		return err
	}
	s.projects = next
	return nil
}

// write persists via temp file + rename so a crash mid-write cannot leave a
// truncated projects file.
func (s *Store) write(projects map[string]Config) error {
	raw, err := yaml.Marshal(storeFile{Projects: projects})
	if err != nil {
		return fmt.Errorf("encoding projects: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".projects-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing projects: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing projects file: %w", err)
	}
	return nil
}

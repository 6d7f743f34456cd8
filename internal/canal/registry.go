package canal

import (
	"fmt"

	"github.com/p-blackswan/slack-canal/internal/project"
)

// ProjectService is the project configuration collaborator.
type ProjectService interface {
	ListProjects() []string
	SlackConfig(name string) (project.SlackConfig, bool)
	UpdateSlackConfig(name string, cfg project.SlackConfig) error
}

// Registry gives thread-key → thread-id access over the persisted per-project
// thread map.
type Registry struct {
	projects ProjectService
}

// NewRegistry creates a registry over the given project service.
func NewRegistry(projects ProjectService) *Registry {
	return &Registry{projects: projects}
}

// Lookup returns the thread id mapped to key for the project, if any.
func (r *Registry) Lookup(projectName, key string) (string, bool) {
	cfg, ok := r.projects.SlackConfig(projectName)
	if !ok {
		return "", false
	}
	id, ok := cfg.ThreadMap[key]
	return id, ok
}

// Persist merges the key → threadID mapping into the project's thread map.
// Read-merge-write: a fresh copy of the current config is fetched, the single
// entry merged in, and the whole config handed back to the store. Concurrent
// persists for different keys cannot drop each other's entries because the
// merge always starts from the latest stored map.
func (r *Registry) Persist(projectName, key, threadID string) error {
	cfg, ok := r.projects.SlackConfig(projectName)
	if !ok {
		return fmt.Errorf("project %s has no slack integration", projectName)
	}

	next := cfg.Clone()
	if next.ThreadMap == nil {
		next.ThreadMap = make(map[string]string)
	}
	next.ThreadMap[key] = threadID

	if err := r.projects.UpdateSlackConfig(projectName, next); err != nil {
		return fmt.Errorf("persisting thread map entry %s: %w", key, err)
	}
	return nil
}

// Package instance manages job instances: uniquely identified working
// directories staged from a job template, their persisted results, and the
// orchestration of input staging and execution.
//
// Directory layout:
//
//	<jobsRoot>/<slug>/<base>        job template (read-only seed)
//	<jobsRoot>/<slug>/<id>          instance working tree (ephemeral)
//	<resultsRoot>/<slug>/<id>/...   persisted log + preserved output files
package instance

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/matiasb/jaime/pkg/catalog"
)

// Errors returned by store and instance operations.
var (
	// ErrNotFound indicates the instance working directory does not exist.
	ErrNotFound = errors.New("job instance not found")

	// ErrAlreadyExists indicates the working directory is already present.
	// Fresh identifiers make this unreachable in practice, but it is checked:
	// the working directory is created exactly once, never reused.
	ErrAlreadyExists = errors.New("working directory already exists")
)

// IsNotFound returns true if the error indicates an unknown instance.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store derives and manages on-disk locations for job instances.
type Store struct {
	jobsRoot    string
	resultsRoot string
	logFilename string
}

// NewStore builds a Store over the two filesystem roots.
func NewStore(jobsRoot, resultsRoot, logFilename string) *Store {
	return &Store{
		jobsRoot:    jobsRoot,
		resultsRoot: resultsRoot,
		logFilename: logFilename,
	}
}

// JobsRoot returns the working-tree root directory.
func (s *Store) JobsRoot() string { return s.jobsRoot }

// WorkingDir returns the instance's exclusive working directory path.
func (s *Store) WorkingDir(job *catalog.JobDefinition, id string) string {
	return filepath.Join(s.jobsRoot, job.Slug, id)
}

// ResultsDir returns the instance's durable results directory path.
func (s *Store) ResultsDir(job *catalog.JobDefinition, id string) string {
	return filepath.Join(s.resultsRoot, job.Slug, id)
}

// LogPath returns the path of the persisted combined log.
func (s *Store) LogPath(job *catalog.JobDefinition, id string) string {
	return filepath.Join(s.ResultsDir(job, id), s.logFilename)
}

// TemplateDir returns the job's template directory.
func (s *Store) TemplateDir(job *catalog.JobDefinition) string {
	return job.TemplateDir(s.jobsRoot)
}

// CreateWorkingDir establishes the instance sandbox by recursively copying
// the job template, preserving structure and file modes.
//
// This is the single point where the sandbox's initial filesystem state is
// established; nothing else may write into the working directory before it
// completes. Fails with ErrAlreadyExists when the path is already present.
func (s *Store) CreateWorkingDir(job *catalog.JobDefinition, id string) error {
	dir := s.WorkingDir(job, id)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%s: %w", dir, ErrAlreadyExists)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat working dir: %w", err)
	}
	if err := copyTree(s.TemplateDir(job), dir); err != nil {
		return fmt.Errorf("seed working dir from template: %w", err)
	}
	return nil
}

// RemoveWorkingDir deletes the instance working tree. Idempotent: a missing
// directory is not an error. The results directory is never touched, so a
// persisted log outlives removal by design.
func (s *Store) RemoveWorkingDir(job *catalog.JobDefinition, id string) error {
	return os.RemoveAll(s.WorkingDir(job, id))
}

// Info summarizes one stored instance for listings.
type Info struct {
	ID        string    `json:"id"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// ListInstances enumerates instances of a job, newest first.
//
// The template directory shares the job's directory level and is skipped by
// name.
func (s *Store) ListInstances(job *catalog.JobDefinition) ([]Info, error) {
	jobDir := filepath.Join(s.jobsRoot, job.Slug)
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read job dir: %w", err)
	}

	out := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == job.Base {
			continue
		}
		info := Info{ID: entry.Name()}
		if fi, err := entry.Info(); err == nil {
			info.CreatedAt = fi.ModTime().UTC()
		}
		if _, err := os.Stat(s.LogPath(job, info.ID)); err == nil {
			info.Completed = true
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// copyTree recursively copies src into dst, preserving file modes.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

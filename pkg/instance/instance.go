package instance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/matiasb/jaime/pkg/catalog"
	"github.com/matiasb/jaime/pkg/runner"
)

// Instance is one concrete, uniquely identified attempt to supply inputs and
// execute a job definition.
//
// One id maps to one working directory and one execution lineage. Re-running
// the same instance is permitted and overwrites the prior log. The engine
// does not lock against two concurrent Run calls on the same id; callers must
// not invoke Run twice in parallel for one identifier.
type Instance struct {
	store *Store
	job   *catalog.JobDefinition
	id    string
}

// New creates a fresh instance with a generated identifier. The working
// directory does not exist yet; staging creates it.
func New(store *Store, job *catalog.JobDefinition) *Instance {
	return &Instance{store: store, job: job, id: uuid.NewString()}
}

// At returns a handle for a known identifier without checking the working
// directory. Useful for results access after the working tree was removed;
// use Resume when the sandbox itself is needed.
func At(store *Store, job *catalog.JobDefinition, id string) *Instance {
	return &Instance{store: store, job: job, id: id}
}

// Resume reopens a known instance. Fails with ErrNotFound when the working
// directory is absent.
func Resume(store *Store, job *catalog.JobDefinition, id string) (*Instance, error) {
	inst := &Instance{store: store, job: job, id: id}
	if _, err := os.Stat(inst.WorkingDir()); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("instance %s/%s: %w", job.Slug, id, ErrNotFound)
		}
		return nil, fmt.Errorf("stat instance dir: %w", err)
	}
	return inst, nil
}

// ID returns the opaque instance identifier.
func (i *Instance) ID() string { return i.id }

// Job returns the owning job definition.
func (i *Instance) Job() *catalog.JobDefinition { return i.job }

// WorkingDir returns the instance's exclusive working directory.
func (i *Instance) WorkingDir() string { return i.store.WorkingDir(i.job, i.id) }

// ResultsDir returns the instance's durable results directory.
func (i *Instance) ResultsDir() string { return i.store.ResultsDir(i.job, i.id) }

// LogPath returns the path of the persisted combined log.
func (i *Instance) LogPath() string { return i.store.LogPath(i.job, i.id) }

// Completed reports whether a combined log has been persisted for this
// instance, i.e. whether at least one run finished.
func (i *Instance) Completed() bool {
	_, err := os.Stat(i.LogPath())
	return err == nil
}

// Run executes the job command inside the staged working directory and
// returns the decoded combined log.
//
// Execution-time failures (missing binary, non-zero exit, timeout) are
// converted into log content, never into an error: once staging succeeded the
// user always gets a result. Completed is true on return.
func (i *Instance) Run(ctx context.Context, r *runner.Runner, timeout time.Duration) (string, error) {
	res, err := r.Run(ctx, runner.Request{
		Dir:         i.WorkingDir(),
		ResultsDir:  i.ResultsDir(),
		Command:     i.job.Command,
		OutputFiles: i.job.OutputFiles,
		Timeout:     timeout,
	})
	if err != nil {
		return "", fmt.Errorf("run instance %s/%s: %w", i.job.Slug, i.id, err)
	}
	return res.Output, nil
}

// Output replays the persisted log without re-running. The boolean is false
// when no run has completed yet.
func (i *Instance) Output() (string, bool, error) {
	data, err := os.ReadFile(i.LogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read persisted log: %w", err)
	}
	return string(data), true, nil
}

// ArtifactPath resolves a preserved output file by name. Only filenames the
// job declares (or the log itself) are served; anything else is ErrNotFound.
func (i *Instance) ArtifactPath(name string) (string, error) {
	allowed := name == i.store.logFilename
	for _, f := range i.job.OutputFiles {
		if f == name {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("artifact %q: %w", name, ErrNotFound)
	}

	path := filepath.Join(i.ResultsDir(), name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("artifact %q: %w", name, ErrNotFound)
	}
	return path, nil
}

// Remove deletes the working directory recursively. Tolerant of it already
// being gone; never touches the results directory, so replay keeps working.
func (i *Instance) Remove() error {
	return i.store.RemoveWorkingDir(i.job, i.id)
}

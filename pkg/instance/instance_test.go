package instance

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matiasb/jaime/pkg/runner"
)

func stageFull(t *testing.T, inst *Instance) {
	t.Helper()
	require.NoError(t, inst.SetupFromFiles([]UploadFile{
		{Name: "a.txt", Content: strings.NewReader("alpha")},
		{Name: "b.txt", Content: strings.NewReader("beta")},
	}))
}

func TestNew_UniqueIDs(t *testing.T) {
	job := testJob()
	store := newTestStore(t, job)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New(store, job).ID()
		require.NotEmpty(t, id)
		require.False(t, seen[id], "fresh ids must be unique")
		seen[id] = true
	}
}

func TestResume(t *testing.T) {
	job := testJob()
	store := newTestStore(t, job)

	t.Run("unknown id", func(t *testing.T) {
		_, err := Resume(store, job, "no-such-id")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("staged instance resumes", func(t *testing.T) {
		created := New(store, job)
		stageFull(t, created)

		resumed, err := Resume(store, job, created.ID())
		require.NoError(t, err)
		assert.Equal(t, created.WorkingDir(), resumed.WorkingDir())
	})
}

func TestInstance_RunAndReplay(t *testing.T) {
	job := testJob()
	store := newTestStore(t, job)
	r := runner.New("output.log", nil)

	inst := New(store, job)
	stageFull(t, inst)

	assert.False(t, inst.Completed())

	output, err := inst.Run(context.Background(), r, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", output)
	assert.True(t, inst.Completed())

	t.Run("output replays without re-running", func(t *testing.T) {
		replayed, ok, err := inst.Output()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "hello\n", replayed)
	})

	t.Run("re-run overwrites the prior log", func(t *testing.T) {
		output, err := inst.Run(context.Background(), r, 0)
		require.NoError(t, err)
		assert.Equal(t, "hello\n", output)
	})

	t.Run("removal keeps the persisted results", func(t *testing.T) {
		require.NoError(t, inst.Remove())

		replayed, ok, err := inst.Output()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "hello\n", replayed)
		assert.True(t, inst.Completed())
	})
}

func TestInstance_OutputBeforeRun(t *testing.T) {
	job := testJob()
	store := newTestStore(t, job)

	inst := New(store, job)
	_, ok, err := inst.Output()
	require.NoError(t, err)
	assert.False(t, ok, "no run, no output")
}

func TestInstance_ArtifactPath(t *testing.T) {
	job := testJob()
	job.OutputFiles = []string{"report.txt"}
	store := newTestStore(t, job)

	inst := New(store, job)
	require.NoError(t, os.MkdirAll(inst.ResultsDir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(inst.ResultsDir(), "report.txt"), []byte("ok"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(inst.ResultsDir(), "output.log"), []byte("log"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(inst.ResultsDir(), "secret.txt"), []byte("no"), 0644))

	t.Run("declared output file", func(t *testing.T) {
		path, err := inst.ArtifactPath("report.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(inst.ResultsDir(), "report.txt"), path)
	})

	t.Run("the log itself", func(t *testing.T) {
		_, err := inst.ArtifactPath("output.log")
		require.NoError(t, err)
	})

	t.Run("undeclared file is not served", func(t *testing.T) {
		_, err := inst.ArtifactPath("secret.txt")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("declared but absent", func(t *testing.T) {
		job2 := testJob()
		job2.OutputFiles = []string{"never.txt"}
		inst2 := At(store, job2, inst.ID())
		_, err := inst2.ArtifactPath("never.txt")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

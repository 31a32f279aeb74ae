package server

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matiasb/jaime/internal/config"
	apperrors "github.com/matiasb/jaime/internal/errors"
	"github.com/matiasb/jaime/internal/server/handlers"
	"github.com/matiasb/jaime/pkg/catalog"
	"github.com/matiasb/jaime/pkg/instance"
	"github.com/matiasb/jaime/pkg/runner"
)

const testCatalog = `
jobs:
  echo:
    title: Echo
    base: base
    expected_files: [a.txt, b.txt]
    command: [echo, hello]
  reporter:
    title: Reporter
    base: base
    expected_files: [a.txt]
    output_files: [report.txt]
    command: [sh, -c, "cat a.txt > report.txt; echo reported"]
  archive-only:
    title: Archive only
    base: base
    allow_individual_upload: false
    compressed_file:
      label: Submission
      pattern: "*.tar"
    expected_files: [a.txt]
    command: [echo, ok]
`

type testEnv struct {
	srv   *Server
	store *instance.Store
	cat   *catalog.Catalog
}

func newTestEnv(t *testing.T, maxUploadBytes int64) *testEnv {
	t.Helper()

	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)

	jobsRoot := t.TempDir()
	resultsRoot := t.TempDir()
	store := instance.NewStore(jobsRoot, resultsRoot, "output.log")
	for _, job := range cat.Jobs() {
		require.NoError(t, os.MkdirAll(store.TemplateDir(job), 0755))
	}

	run := runner.New("output.log", nil)
	h := handlers.New(cat, store, run, 0, nil)
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, h, maxUploadBytes, nil)
	return &testEnv{srv: srv, store: store, cat: cat}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func multipartFiles(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	i := 0
	for name, content := range files {
		part, err := w.CreateFormFile("file"+string(rune('a'+i)), name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
		i++
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func multipartArchive(t *testing.T, archiveName string, members map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, content := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0644, Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("compressed_file", archiveName)
	require.NoError(t, err)
	_, err = part.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestServer_Routes(t *testing.T) {
	env := newTestEnv(t, 0)

	t.Run("health", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/health", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("version", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/version", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/does-not-exist", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, apperrors.CodeNotFound, decodeError(t, rec).Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/version", nil, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, apperrors.CodeMethodNotAllowed, decodeError(t, rec).Error.Code)
	})
}

func TestServer_JobCatalog(t *testing.T) {
	env := newTestEnv(t, 0)

	t.Run("list", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jobs", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Jobs []struct {
				Slug string `json:"slug"`
			} `json:"jobs"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Jobs, 3)
		assert.Equal(t, "archive-only", body.Jobs[0].Slug, "sorted by slug")
	})

	t.Run("detail", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jobs/echo", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Slug          string   `json:"slug"`
			ExpectedFiles []string `json:"expected_files"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "echo", body.Slug)
		assert.Equal(t, []string{"a.txt", "b.txt"}, body.ExpectedFiles)
	})

	t.Run("unknown slug", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jobs/nope", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, apperrors.CodeNotFound, decodeError(t, rec).Error.Code)
	})
}

func submit(t *testing.T, env *testEnv, slug string, body *bytes.Buffer, contentType string) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/jobs/"+slug+"/instances", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.NotEmpty(t, created.ID)
	return created.ID
}

func TestServer_SubmitRunReplay(t *testing.T) {
	env := newTestEnv(t, 0)

	body, ct := multipartFiles(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})
	id := submit(t, env, "echo", body, ct)

	t.Run("first get runs the job", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jobs/echo/instances/"+id, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var state struct {
			Completed bool   `json:"completed"`
			Output    string `json:"output"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
		assert.True(t, state.Completed)
		assert.Equal(t, "hello\n", state.Output)
	})

	t.Run("second get replays", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jobs/echo/instances/"+id, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "hello\\n")
	})

	t.Run("forced re-run", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/jobs/echo/instances/"+id+"/run", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "hello\\n")
	})

	t.Run("listing shows the instance", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jobs/echo/instances", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), id)
	})

	t.Run("delete then resume fails", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/jobs/echo/instances/"+id, nil, "")
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/jobs/echo/instances/"+id, nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown instance id", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jobs/echo/instances/no-such-id", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_SubmitFromArchive(t *testing.T) {
	env := newTestEnv(t, 0)

	body, ct := multipartArchive(t, "sub.tar", map[string]string{"a.txt": "alpha", "b.txt": "beta"})
	id := submit(t, env, "echo", body, ct)

	rec := env.do(t, http.MethodGet, "/api/jobs/echo/instances/"+id, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StagingFailures(t *testing.T) {
	env := newTestEnv(t, 0)

	t.Run("wrong loose filenames", func(t *testing.T) {
		body, ct := multipartFiles(t, map[string]string{"a.txt": "alpha", "c.txt": "gamma"})
		rec := env.do(t, http.MethodPost, "/api/jobs/echo/instances", body, ct)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, apperrors.CodeInvalidFilename, decodeError(t, rec).Error.Code)
	})

	t.Run("wrong file count", func(t *testing.T) {
		body, ct := multipartFiles(t, map[string]string{"a.txt": "alpha"})
		rec := env.do(t, http.MethodPost, "/api/jobs/echo/instances", body, ct)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, apperrors.CodeWrongFileCount, decodeError(t, rec).Error.Code)
	})

	t.Run("archive member mismatch", func(t *testing.T) {
		body, ct := multipartArchive(t, "sub.tar", map[string]string{"a.txt": "alpha"})
		rec := env.do(t, http.MethodPost, "/api/jobs/echo/instances", body, ct)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, apperrors.CodeInvalidContent, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "b.txt")
	})

	t.Run("archive name fails policy", func(t *testing.T) {
		body, ct := multipartArchive(t, "wrong.zip", map[string]string{"a.txt": "alpha"})
		rec := env.do(t, http.MethodPost, "/api/jobs/archive-only/instances", body, ct)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, apperrors.CodeInvalidFilename, decodeError(t, rec).Error.Code)
	})

	t.Run("loose upload not allowed", func(t *testing.T) {
		body, ct := multipartFiles(t, map[string]string{"a.txt": "alpha"})
		rec := env.do(t, http.MethodPost, "/api/jobs/archive-only/instances", body, ct)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("malformed multipart body", func(t *testing.T) {
		body := bytes.NewBufferString("this is not multipart at all")
		rec := env.do(t, http.MethodPost, "/api/jobs/echo/instances", body, "multipart/form-data; boundary=xyz")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.CodeInvalidRequest, decodeError(t, rec).Error.Code)
	})

	t.Run("failed staging leaves no working tree behind", func(t *testing.T) {
		job, err := env.cat.Resolve("echo")
		require.NoError(t, err)

		before, err := env.store.ListInstances(job)
		require.NoError(t, err)

		body, ct := multipartFiles(t, map[string]string{"a.txt": "alpha"})
		rec := env.do(t, http.MethodPost, "/api/jobs/echo/instances", body, ct)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		after, err := env.store.ListInstances(job)
		require.NoError(t, err)
		assert.Len(t, after, len(before))
	})
}

func TestServer_Artifacts(t *testing.T) {
	env := newTestEnv(t, 0)

	body, ct := multipartFiles(t, map[string]string{"a.txt": "payload\n"})
	id := submit(t, env, "reporter", body, ct)

	rec := env.do(t, http.MethodGet, "/api/jobs/reporter/instances/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("declared artifact is served", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jobs/reporter/instances/"+id+"/files/report.txt", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "payload\n", rec.Body.String())
	})

	t.Run("log is served", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jobs/reporter/instances/"+id+"/files/output.log", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "reported\n", rec.Body.String())
	})

	t.Run("undeclared file is not served", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/jobs/reporter/instances/"+id+"/files/a.txt", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("artifacts survive working-tree removal", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/jobs/reporter/instances/"+id, nil, "")
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/jobs/reporter/instances/"+id+"/files/report.txt", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestServer_UploadTooLarge(t *testing.T) {
	env := newTestEnv(t, 64)

	body, ct := multipartFiles(t, map[string]string{
		"a.txt": "this content is comfortably beyond the configured limit",
		"b.txt": "and this one pushes it over for sure",
	})
	rec := env.do(t, http.MethodPost, "/api/jobs/echo/instances", body, ct)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, apperrors.CodeRequestTooLarge, decodeError(t, rec).Error.Code)
}

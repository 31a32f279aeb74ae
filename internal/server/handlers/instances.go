package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/matiasb/jaime/internal/errors"
	"github.com/matiasb/jaime/pkg/catalog"
	"github.com/matiasb/jaime/pkg/instance"
)

// archiveField is the multipart field name carrying a single-archive upload.
const archiveField = "compressed_file"

// instanceState is the submission/run response shape.
type instanceState struct {
	ID        string `json:"id"`
	Job       string `json:"job"`
	Completed bool   `json:"completed"`
	Output    string `json:"output,omitempty"`
}

func (h *Handlers) resolveInstance(r *http.Request) (*instance.Instance, error) {
	job, err := h.catalog.Resolve(chi.URLParam(r, "slug"))
	if err != nil {
		return nil, err
	}
	return instance.Resume(h.store, job, chi.URLParam(r, "id"))
}

// CreateInstance accepts a multipart submission for a job: either one part
// named "compressed_file" (an archive covering the whole expected set) or one
// part per expected file. Staging failures discard the partially created
// working directory before the error is reported.
func (h *Handlers) CreateInstance(w http.ResponseWriter, r *http.Request) {
	job, err := h.catalog.Resolve(chi.URLParam(r, "slug"))
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apperrors.RespondWithError(w, r, err)
			return
		}
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.HTTPError{
			Code: apperrors.CodeInvalidRequest, Message: "malformed multipart body",
		})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	inst := instance.New(h.store, job)
	if err := h.stage(r, job, inst); err != nil {
		// Validation aborts staging; the partial working tree must not
		// survive as a half-staged sandbox.
		_ = inst.Remove()
		apperrors.RespondWithError(w, r, err)
		return
	}

	h.logger.Info("instance staged",
		zap.String("job", job.Slug), zap.String("id", inst.ID()))

	writeJSON(w, http.StatusCreated, instanceState{ID: inst.ID(), Job: job.Slug})
}

func (h *Handlers) stage(r *http.Request, job *catalog.JobDefinition, inst *instance.Instance) error {
	if archives := r.MultipartForm.File[archiveField]; len(archives) > 0 {
		part := archives[0]
		f, err := part.Open()
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		return inst.SetupFromArchive(f, part.Filename)
	}

	if !job.AllowIndividualUpload {
		return &instance.WrongFileCountError{Expected: len(job.ExpectedFiles), Got: 0}
	}

	var files []instance.UploadFile
	var closers []func()
	defer func() {
		for _, close := range closers {
			close()
		}
	}()
	for field, parts := range r.MultipartForm.File {
		if field == archiveField {
			continue
		}
		for _, part := range parts {
			f, err := part.Open()
			if err != nil {
				return err
			}
			closers = append(closers, func() { _ = f.Close() })
			files = append(files, instance.UploadFile{Name: part.Filename, Content: f})
		}
	}
	return inst.SetupFromFiles(files)
}

// GetInstance runs the instance on first retrieval and replays the persisted
// log on every later one, without re-executing.
func (h *Handlers) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.resolveInstance(r)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	output, ok, err := inst.Output()
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	if !ok {
		output, err = inst.Run(r.Context(), h.runner, h.runTimeout)
		if err != nil {
			apperrors.RespondWithError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, instanceState{
		ID:        inst.ID(),
		Job:       inst.Job().Slug,
		Completed: true,
		Output:    output,
	})
}

// RunInstance forces a re-run, overwriting the prior log.
func (h *Handlers) RunInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.resolveInstance(r)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	output, err := inst.Run(r.Context(), h.runner, h.runTimeout)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, instanceState{
		ID:        inst.ID(),
		Job:       inst.Job().Slug,
		Completed: true,
		Output:    output,
	})
}

// ListInstances enumerates a job's instances, newest first.
func (h *Handlers) ListInstances(w http.ResponseWriter, r *http.Request) {
	job, err := h.catalog.Resolve(chi.URLParam(r, "slug"))
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	infos, err := h.store.ListInstances(job)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	if infos == nil {
		infos = []instance.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": infos})
}

// GetArtifact serves a preserved output file (or the log) by name, copying
// bytes straight from the results directory.
func (h *Handlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	job, err := h.catalog.Resolve(chi.URLParam(r, "slug"))
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	// Artifacts outlive the working directory, so the instance is not
	// resumed here; the results directory alone decides existence.
	inst := instance.At(h.store, job, chi.URLParam(r, "id"))
	path, err := inst.ArtifactPath(chi.URLParam(r, "name"))
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	http.ServeFile(w, r, path)
}

// DeleteInstance removes the working directory. Results are kept.
func (h *Handlers) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.resolveInstance(r)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	if err := inst.Remove(); err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

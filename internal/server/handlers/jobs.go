package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/matiasb/jaime/internal/errors"
	"github.com/matiasb/jaime/pkg/catalog"
)

// jobSummary is the catalog listing shape.
type jobSummary struct {
	Slug                  string `json:"slug"`
	Title                 string `json:"title"`
	Description           string `json:"description"`
	AllowIndividualUpload bool   `json:"allow_individual_upload"`
	ArchiveLabel          string `json:"archive_label,omitempty"`
}

// jobDetail extends the summary with the input/output contract.
type jobDetail struct {
	jobSummary
	ExpectedFiles []string `json:"expected_files"`
	OutputFiles   []string `json:"output_files"`
}

func summarize(job *catalog.JobDefinition) jobSummary {
	s := jobSummary{
		Slug:                  job.Slug,
		Title:                 job.Title,
		Description:           job.Description,
		AllowIndividualUpload: job.AllowIndividualUpload,
	}
	if job.Archive != nil {
		s.ArchiveLabel = job.Archive.Label
	}
	return s
}

// ListJobs returns the catalog, sorted by slug.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.catalog.Jobs()
	out := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, summarize(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

// GetJob returns one job definition's public contract.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.catalog.Resolve(chi.URLParam(r, "slug"))
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	detail := jobDetail{
		jobSummary:    summarize(job),
		ExpectedFiles: job.ExpectedFiles,
		OutputFiles:   job.OutputFiles,
	}
	if detail.ExpectedFiles == nil {
		detail.ExpectedFiles = []string{}
	}
	if detail.OutputFiles == nil {
		detail.OutputFiles = []string{}
	}
	writeJSON(w, http.StatusOK, detail)
}

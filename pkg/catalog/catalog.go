// Package catalog loads and resolves static job definitions.
//
// The catalog is read once at process start and is immutable afterwards.
// Callers receive it explicitly; there is no package-level registry.
package catalog

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Errors returned by catalog operations.
var (
	// ErrNotFound indicates the requested job slug is not in the catalog.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidPattern indicates an archive filename pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid archive filename pattern")
)

// IsNotFound returns true if the error indicates an unknown job slug.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ArchivePolicy constrains the filename of an uploaded archive.
//
// Label is display metadata. Pattern, when non-empty, is a doublestar glob
// the uploaded archive's own filename must match.
type ArchivePolicy struct {
	Label   string
	Pattern string
}

// MatchName reports whether filename satisfies the policy pattern.
// An empty pattern accepts every name.
func (p *ArchivePolicy) MatchName(filename string) bool {
	if p == nil || p.Pattern == "" {
		return true
	}
	ok, err := doublestar.Match(p.Pattern, filename)
	return err == nil && ok
}

// JobDefinition is one immutable catalog entry.
type JobDefinition struct {
	// Slug is the stable identifier, unique within the catalog.
	Slug string

	// Title and Description are display metadata, passed through untouched.
	Title       string
	Description string

	// Base is the template directory name; the template seeding every new
	// instance lives at <jobsRoot>/<slug>/<base>.
	Base string

	// AllowIndividualUpload permits loose per-file upload (default true).
	AllowIndividualUpload bool

	// Archive, when set, labels and optionally constrains a single-archive
	// upload. Nil means the job takes no archive.
	Archive *ArchivePolicy

	// ExpectedFiles is the exact set of input filenames an instance must
	// receive: no more, no fewer. Free of duplicates.
	ExpectedFiles []string

	// OutputFiles are working-directory-relative filenames preserved after a
	// run, in addition to the always-present combined log.
	OutputFiles []string

	// Command is the argument vector to execute. No shell is involved.
	// An empty command is legal but every run of it fails.
	Command []string
}

// TemplateDir resolves the template directory for this job under jobsRoot.
func (j *JobDefinition) TemplateDir(jobsRoot string) string {
	return filepath.Join(jobsRoot, j.Slug, j.Base)
}

// ExpectsFile reports whether name is one of the job's expected input files.
func (j *JobDefinition) ExpectsFile(name string) bool {
	for _, f := range j.ExpectedFiles {
		if f == name {
			return true
		}
	}
	return false
}

// Catalog is a read-only map of job definitions keyed by slug.
type Catalog struct {
	jobs map[string]*JobDefinition
}

// Resolve returns the definition for slug, or ErrNotFound.
//
// Repeated resolutions of the same slug return the same definition.
func (c *Catalog) Resolve(slug string) (*JobDefinition, error) {
	job, ok := c.jobs[slug]
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", slug, ErrNotFound)
	}
	return job, nil
}

// Jobs returns all definitions sorted by slug.
func (c *Catalog) Jobs() []*JobDefinition {
	out := make([]*JobDefinition, 0, len(c.jobs))
	for _, job := range c.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.jobs)
}

// jobEntry is the YAML shape of one catalog entry.
type jobEntry struct {
	Title                 string        `yaml:"title"`
	Description           string        `yaml:"description"`
	Base                  string        `yaml:"base"`
	AllowIndividualUpload *bool         `yaml:"allow_individual_upload"`
	CompressedFile        *archiveEntry `yaml:"compressed_file"`
	ExpectedFiles         []string      `yaml:"expected_files"`
	OutputFiles           []string      `yaml:"output_files"`
	Command               yaml.Node     `yaml:"command"`
}

// archiveEntry accepts either a bare label string or a {label, pattern} map.
type archiveEntry struct {
	Label   string
	Pattern string
}

func (a *archiveEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&a.Label)
	}
	var full struct {
		Label   string `yaml:"label"`
		Pattern string `yaml:"pattern"`
	}
	if err := value.Decode(&full); err != nil {
		return err
	}
	a.Label = full.Label
	a.Pattern = full.Pattern
	return nil
}

type catalogFile struct {
	Jobs map[string]jobEntry `yaml:"jobs"`
}

// Parse builds a Catalog from raw YAML bytes.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	jobs := make(map[string]*JobDefinition, len(file.Jobs))
	for slug, entry := range file.Jobs {
		job, err := buildJob(slug, entry)
		if err != nil {
			return nil, err
		}
		jobs[slug] = job
	}
	return &Catalog{jobs: jobs}, nil
}

func buildJob(slug string, entry jobEntry) (*JobDefinition, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, errors.New("catalog entry with empty slug")
	}

	job := &JobDefinition{
		Slug:                  slug,
		Title:                 entry.Title,
		Description:           entry.Description,
		Base:                  entry.Base,
		AllowIndividualUpload: true,
		ExpectedFiles:         entry.ExpectedFiles,
		OutputFiles:           entry.OutputFiles,
	}
	if entry.AllowIndividualUpload != nil {
		job.AllowIndividualUpload = *entry.AllowIndividualUpload
	}

	if entry.CompressedFile != nil {
		if p := entry.CompressedFile.Pattern; p != "" && !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("job %q: pattern %q: %w", slug, p, ErrInvalidPattern)
		}
		job.Archive = &ArchivePolicy{
			Label:   entry.CompressedFile.Label,
			Pattern: entry.CompressedFile.Pattern,
		}
	}

	seen := make(map[string]bool, len(job.ExpectedFiles))
	for _, f := range job.ExpectedFiles {
		if seen[f] {
			return nil, fmt.Errorf("job %q: duplicate expected file %q", slug, f)
		}
		seen[f] = true
	}

	command, err := decodeCommand(entry.Command)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", slug, err)
	}
	job.Command = command

	return job, nil
}

// decodeCommand accepts a command as either a YAML sequence (used verbatim as
// the argument vector) or a single string split with shell-style lexing.
// Splitting happens once at load time; nothing is re-interpreted at run time.
func decodeCommand(node yaml.Node) ([]string, error) {
	switch node.Kind {
	case 0:
		// Absent key; a job with no command is legal but always fails at run time.
		return nil, nil
	case yaml.SequenceNode:
		var argv []string
		if err := node.Decode(&argv); err != nil {
			return nil, fmt.Errorf("decode command: %w", err)
		}
		return argv, nil
	case yaml.ScalarNode:
		var raw string
		if err := node.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode command: %w", err)
		}
		if strings.TrimSpace(raw) == "" {
			return nil, nil
		}
		argv, err := shlex.Split(raw)
		if err != nil {
			return nil, fmt.Errorf("split command %q: %w", raw, err)
		}
		return argv, nil
	default:
		return nil, fmt.Errorf("command must be a string or a list")
	}
}

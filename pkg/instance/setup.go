package instance

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/matiasb/jaime/pkg/archive"
	"github.com/matiasb/jaime/pkg/staging"
)

// InvalidFilenameError reports an archive or upload filename that fails a
// naming constraint, carrying the offending name.
type InvalidFilenameError struct {
	Name string
}

func (e *InvalidFilenameError) Error() string {
	return fmt.Sprintf("invalid filename: %s", e.Name)
}

// WrongFileCountError reports a loose-upload submission whose file count does
// not match the job's expected set size.
type WrongFileCountError struct {
	Expected int
	Got      int
}

func (e *WrongFileCountError) Error() string {
	return "missing or unexpected file(s)"
}

// UploadFile is one loose-uploaded input: a filename and its content stream.
type UploadFile struct {
	Name    string
	Content io.Reader
}

// SetupFromArchive stages the working directory from a single uploaded
// archive.
//
// Order of operations: archive filename policy check, working-directory
// creation from the template, archive persistence under its original name,
// format sniffing, member-set validation against the job's expected files,
// and finally extraction. On any failure the working directory is left as-is;
// discarding it is the caller's responsibility.
func (i *Instance) SetupFromArchive(r io.Reader, filename string) error {
	filename = filepath.Base(filename)
	if !i.job.Archive.MatchName(filename) {
		return &InvalidFilenameError{Name: filename}
	}

	if err := i.store.CreateWorkingDir(i.job, i.id); err != nil {
		return err
	}

	dest := filepath.Join(i.WorkingDir(), filename)
	if err := writeStream(dest, r); err != nil {
		return fmt.Errorf("save archive: %w", err)
	}

	format, err := archive.Identify(dest)
	if err != nil {
		return fmt.Errorf("identify archive: %w", err)
	}
	if format == archive.FormatUnsupported {
		return archive.ErrUnsupportedFormat
	}

	members, err := archive.ListMembers(dest, format)
	if err != nil {
		return err
	}
	if err := staging.Validate(i.job.ExpectedFiles, members); err != nil {
		return err
	}

	return archive.ExtractAll(dest, format, i.WorkingDir())
}

// SetupFromFiles stages the working directory from individually uploaded
// files.
//
// The check here is count plus membership, not exact set equality: duplicate
// uploads of an allowed filename silently overwrite each other. That matches
// the established submission behavior and is kept deliberately.
func (i *Instance) SetupFromFiles(files []UploadFile) error {
	if len(files) != len(i.job.ExpectedFiles) {
		return &WrongFileCountError{Expected: len(i.job.ExpectedFiles), Got: len(files)}
	}
	for _, f := range files {
		if !i.job.ExpectsFile(f.Name) {
			return &InvalidFilenameError{Name: f.Name}
		}
	}

	if err := i.store.CreateWorkingDir(i.job, i.id); err != nil {
		return err
	}

	for _, f := range files {
		dest := filepath.Join(i.WorkingDir(), f.Name)
		if err := writeStream(dest, f.Content); err != nil {
			return fmt.Errorf("save upload %s: %w", f.Name, err)
		}
	}
	return nil
}

func writeStream(dest string, r io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

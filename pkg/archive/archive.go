// Package archive identifies, enumerates, and safely extracts uploaded
// compressed archives.
//
// Format detection sniffs file signatures and never trusts the filename
// extension. Extraction guards against member paths escaping the target
// directory, since member names are joined into filesystem paths directly.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Format is the recognized archive kind, produced by signature sniffing.
type Format int

const (
	FormatUnsupported Format = iota
	FormatTar
	FormatZip
)

func (f Format) String() string {
	switch f {
	case FormatTar:
		return "tar"
	case FormatZip:
		return "zip"
	default:
		return "unsupported"
	}
}

// Errors returned by archive operations.
var (
	// ErrUnsupportedFormat indicates the blob is neither a valid tar nor zip.
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	// ErrInsecurePath indicates a member name that would escape the
	// extraction directory (absolute path or ".." traversal).
	ErrInsecurePath = errors.New("insecure member path")
)

// ExtractionError wraps failures while expanding an archive. Extraction is
// aborted on the first failure; no attempt is made to keep partial results.
type ExtractionError struct {
	Path   string
	Member string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("extract %s: member %s: %v", e.Path, e.Member, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsUnsupportedFormat returns true if the error indicates an unrecognized blob.
func IsUnsupportedFormat(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat)
}

// File signatures: zip local-file header, gzip magic, and the ustar magic
// found at offset 257 of a plain tar header.
var (
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	gzipMagic = []byte{0x1f, 0x8b}
	tarMagic  = []byte("ustar")
)

const tarMagicOffset = 257

// Identify sniffs the archive format of the file at path.
//
// A gzip stream is reported as FormatTar: uploaded .tar.gz files are the
// common case and the tar reader decompresses transparently. FormatUnsupported
// is a value, not an error; only I/O failures return a non-nil error.
func Identify(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnsupported, err
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, tarMagicOffset+len(tarMagic))
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnsupported, err
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, zipMagic):
		return FormatZip, nil
	case bytes.HasPrefix(header, gzipMagic):
		return FormatTar, nil
	case len(header) >= tarMagicOffset+len(tarMagic) &&
		bytes.Equal(header[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic):
		return FormatTar, nil
	default:
		return FormatUnsupported, nil
	}
}

// ListMembers enumerates member names as stored in the archive.
func ListMembers(path string, format Format) ([]string, error) {
	switch format {
	case FormatTar:
		return listTarMembers(path)
	case FormatZip:
		return listZipMembers(path)
	default:
		return nil, fmt.Errorf("list members of %s: %w", path, ErrUnsupportedFormat)
	}
}

// ExtractAll expands every member of the archive into destDir.
//
// It fails with an *ExtractionError on a malformed or truncated archive, and
// rejects any member whose path would escape destDir before writing anything
// for that member.
func ExtractAll(path string, format Format, destDir string) error {
	switch format {
	case FormatTar:
		return extractTar(path, destDir)
	case FormatZip:
		return extractZip(path, destDir)
	default:
		return fmt.Errorf("extract %s: %w", path, ErrUnsupportedFormat)
	}
}

// securePath joins member into destDir, rejecting absolute names and any
// ".." segment that would resolve outside destDir.
func securePath(destDir, member string) (string, error) {
	if member == "" {
		return "", fmt.Errorf("%w: empty name", ErrInsecurePath)
	}
	if filepath.IsAbs(member) || strings.HasPrefix(member, "/") {
		return "", fmt.Errorf("%w: %s", ErrInsecurePath, member)
	}
	clean := filepath.Clean(member)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrInsecurePath, member)
	}
	return filepath.Join(destDir, clean), nil
}

// openTar returns a tar reader over the file, decompressing gzip when present.
// The returned closer releases the underlying file.
func openTar(path string) (*tar.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	magic := make([]byte, len(gzipMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, nil, err
	}

	var src io.Reader = f
	if bytes.Equal(magic, gzipMagic) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, nil, err
		}
		src = gz
	}
	return tar.NewReader(src), f, nil
}

func listTarMembers(path string) ([]string, error) {
	tr, closer, err := openTar(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	defer func() { _ = closer.Close() }()

	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		// Insecure names are still listed as stored; extraction rejects them.
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return nil, &ExtractionError{Path: path, Err: err}
		}
		names = append(names, hdr.Name)
	}
}

func listZipMembers(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	// zip.OpenReader flags insecure member names itself but still returns a
	// usable reader; listing reports names as stored, so keep going and let
	// validation or extraction reject them.
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	defer func() { _ = zr.Close() }()

	names := make([]string, 0, len(zr.File))
	for _, member := range zr.File {
		names = append(names, member.Name)
	}
	return names, nil
}

func extractTar(path, destDir string) error {
	tr, closer, err := openTar(path)
	if err != nil {
		return &ExtractionError{Path: path, Err: err}
	}
	defer func() { _ = closer.Close() }()

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return &ExtractionError{Path: path, Member: hdr.Name,
				Err: fmt.Errorf("%w: %v", ErrInsecurePath, err)}
		}
		if err != nil {
			return &ExtractionError{Path: path, Err: err}
		}

		target, err := securePath(destDir, hdr.Name)
		if err != nil {
			return &ExtractionError{Path: path, Member: hdr.Name, Err: err}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()); err != nil {
				return &ExtractionError{Path: path, Member: hdr.Name, Err: err}
			}
		case tar.TypeReg:
			if err := writeMember(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return &ExtractionError{Path: path, Member: hdr.Name, Err: err}
			}
		default:
			// Symlinks, devices and the like are not meaningful inputs here
			// and could be abused to escape destDir.
			return &ExtractionError{Path: path, Member: hdr.Name,
				Err: fmt.Errorf("unsupported member type %c", hdr.Typeflag)}
		}
	}
}

func extractZip(path, destDir string) error {
	zr, err := zip.OpenReader(path)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = zr.Close()
		return &ExtractionError{Path: path, Err: fmt.Errorf("%w: %v", ErrInsecurePath, err)}
	}
	if err != nil {
		return &ExtractionError{Path: path, Err: err}
	}
	defer func() { _ = zr.Close() }()

	for _, member := range zr.File {
		target, err := securePath(destDir, member.Name)
		if err != nil {
			return &ExtractionError{Path: path, Member: member.Name, Err: err}
		}

		if member.FileInfo().IsDir() {
			if err := os.MkdirAll(target, member.Mode().Perm()); err != nil {
				return &ExtractionError{Path: path, Member: member.Name, Err: err}
			}
			continue
		}

		rc, err := member.Open()
		if err != nil {
			return &ExtractionError{Path: path, Member: member.Name, Err: err}
		}
		err = writeMember(target, rc, member.Mode().Perm())
		_ = rc.Close()
		if err != nil {
			return &ExtractionError{Path: path, Member: member.Name, Err: err}
		}
	}
	return nil
}

func writeMember(target string, src io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0644
	}
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

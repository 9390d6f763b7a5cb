package upload

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/soundbird/internal/errors"
)

// maxMemberSize caps a single extracted member to guard against zip bombs.
const maxMemberSize = 2 << 30

// ExtractArchive unpacks the WAV members of the ZIP file at src into dst and
// returns their paths in archive order. Hidden files and macOS resource forks
// are skipped, as is anything that is not a WAV file.
func ExtractArchive(src, dst string) ([]string, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return nil, rejected(ErrArchiveCorrupt, "Invalid ZIP file", filepath.Base(src))
	}
	defer zr.Close()

	root, err := filepath.Abs(dst)
	if err != nil {
		return nil, fileError(err, "resolve-destination", dst)
	}

	var paths []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || skipMember(f.Name) || !IsAudio(f.Name) {
			continue
		}

		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return nil, rejected(ErrArchiveCorrupt,
				fmt.Sprintf("Invalid ZIP file: member %q escapes the archive", f.Name), filepath.Base(src))
		}

		if err := extractMember(f, target); err != nil {
			return nil, err
		}
		paths = append(paths, target)
	}
	return paths, nil
}

// skipMember reports whether a member is a hidden file or lives under __MACOSX.
func skipMember(name string) bool {
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == "__MACOSX" {
			return true
		}
	}
	return strings.HasPrefix(filepath.Base(name), ".")
}

func extractMember(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fileError(err, "create-directory", target)
	}

	rc, err := f.Open()
	if err != nil {
		return rejected(ErrArchiveCorrupt, "Invalid ZIP file", f.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fileError(err, "create-member", target)
	}

	n, copyErr := io.Copy(out, io.LimitReader(rc, maxMemberSize+1))
	closeErr := out.Close()
	switch {
	case copyErr != nil:
		return rejected(ErrArchiveCorrupt, "Invalid ZIP file", f.Name)
	case n > maxMemberSize:
		return rejected(ErrArchiveCorrupt, fmt.Sprintf("Invalid ZIP file: member %q is too large", f.Name), f.Name)
	case closeErr != nil:
		return fileError(closeErr, "close-member", target)
	}
	return nil
}

// SaveStream writes r to dir under the base name of name, trimmed the same way
// Validate trims it, and returns the path. Letter case is kept because the
// recording start time is encoded in the name.
func SaveStream(r io.Reader, dir, name string) (string, error) {
	base := baseName(name)
	if base == "" {
		return "", rejected(ErrMissingFilename, "Uploaded file must have a filename", name)
	}
	path := filepath.Join(dir, base)

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", fileError(err, "create-upload", path)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return "", fileError(err, "write-upload", path)
	}
	if err := out.Close(); err != nil {
		return "", fileError(err, "close-upload", path)
	}
	return path, nil
}

func fileError(err error, operation, path string) error {
	return errors.New(err).
		Component("upload").
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("path", path).
		Build()
}

package update

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// defaultMaxEntryBytes bounds a single extracted file (512 MB).
const defaultMaxEntryBytes = 512 << 20

// ExtractDirName is the directory an archive is extracted into.
const ExtractDirName = "extracted"

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	gzipMagic     = []byte{0x1f, 0x8b}
)

// ArchiveFormat identifies a supported artifact format.
type ArchiveFormat int

const (
	FormatUnknown ArchiveFormat = iota
	FormatZip
	FormatTarGz
)

func (f ArchiveFormat) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTarGz:
		return "tar.gz"
	default:
		return "unknown"
	}
}

// Stager extracts artifacts into a scratch tree and normalizes its root.
type Stager struct {
	maxEntry int64
	logger   *log.Logger
}

// NewStager creates an archive stager.
func NewStager(opts ...Option) *Stager {
	o := buildOptions(opts)
	return &Stager{maxEntry: o.maxEntry, logger: o.logger}
}

// DetectFormat sniffs the archive format from its leading bytes.
func DetectFormat(path string) (ArchiveFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 4)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("failed to read archive header: %w", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, zipMagic), bytes.HasPrefix(head, zipEmptyMagic):
		return FormatZip, nil
	case bytes.HasPrefix(head, gzipMagic):
		return FormatTarGz, nil
	default:
		return FormatUnknown, ErrUnsupportedArchive
	}
}

// Extract unpacks archivePath into a fresh directory under dir and returns the
// normalized root: the single top-level directory when the archive holds
// exactly one, else the extraction directory itself.
func (s *Stager) Extract(ctx context.Context, archivePath, dir string) (string, error) {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(dir, ExtractDirName)
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("failed to clear extraction directory: %w", err)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", fmt.Errorf("failed to create extraction directory: %w", err)
	}

	switch format {
	case FormatZip:
		err = s.extractZip(ctx, archivePath, dest)
	case FormatTarGz:
		err = s.extractTarGz(ctx, archivePath, dest)
	}
	if err != nil {
		return "", fmt.Errorf("extracting %s archive: %w", format, err)
	}

	root, err := normalizeRoot(dest)
	if err != nil {
		return "", err
	}
	s.logger.Debug("artifact staged", "format", format, "root", root)
	return root, nil
}

func normalizeRoot(dest string) (string, error) {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", fmt.Errorf("failed to read extraction directory: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dest, entries[0].Name()), nil
	}
	return dest, nil
}

func (s *Stager) extractZip(ctx context.Context, archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = r.Close()
		return fmt.Errorf("opening zip: %w", ErrUnsafeArchivePath)
	}
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if target == dest {
			continue
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating %s: %w", f.Name, err)
			}
			continue
		case !mode.IsRegular():
			s.logger.Debug("skipping non-regular archive entry", "name", f.Name)
			continue
		}

		if f.UncompressedSize64 > uint64(s.maxEntry) {
			return fmt.Errorf("%s: %w", f.Name, ErrArchiveTooLarge)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", f.Name, err)
		}
		err = s.writeEntry(target, rc, mode.Perm())
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}
	return nil
}

func (s *Stager) extractTarGz(ctx context.Context, archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%q: %w", hdr.Name, ErrUnsafeArchivePath)
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir, tar.TypeReg:
		default:
			s.logger.Debug("skipping non-regular archive entry", "name", hdr.Name, "type", string(hdr.Typeflag))
			continue
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		if target == dest {
			continue
		}

		if hdr.Typeflag == tar.TypeDir {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating %s: %w", hdr.Name, err)
			}
			continue
		}

		if hdr.Size > s.maxEntry {
			return fmt.Errorf("%s: %w", hdr.Name, ErrArchiveTooLarge)
		}
		if err := s.writeEntry(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
			return fmt.Errorf("extracting %s: %w", hdr.Name, err)
		}
	}
}

// writeEntry copies at most maxEntry bytes from r into a new file at target.
func (s *Stager) writeEntry(target string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0644
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	n, copyErr := io.Copy(out, io.LimitReader(r, s.maxEntry+1))
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	if n > s.maxEntry {
		return ErrArchiveTooLarge
	}
	return nil
}

// safeJoin resolves an archive entry name under root, rejecting absolute
// names and names that climb out of root.
func safeJoin(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("%q: %w", name, ErrUnsafeArchivePath)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", name, ErrUnsafeArchivePath)
	}
	target := filepath.Join(root, clean)
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", name, ErrUnsafeArchivePath)
	}
	return target, nil
}

package update

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// testEntry is one archive member used to build fixtures.
type testEntry struct {
	name    string
	body    string
	dir     bool
	symlink string
}

func files(m map[string]string) []testEntry {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	entries := make([]testEntry, 0, len(m))
	for _, n := range names {
		entries = append(entries, testEntry{name: n, body: m[n]})
	}
	return entries
}

func buildZip(t *testing.T, path string, entries []testEntry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		switch {
		case e.dir:
			hdr.Name = e.name + "/"
			hdr.SetMode(fs.ModeDir | 0755)
		case e.symlink != "":
			hdr.SetMode(fs.ModeSymlink | 0777)
		default:
			hdr.SetMode(0644)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("zip header %s: %v", e.name, err)
		}
		body := e.body
		if e.symlink != "" {
			body = e.symlink
		}
		if !e.dir {
			if _, err := w.Write([]byte(body)); err != nil {
				t.Fatalf("zip write %s: %v", e.name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
}

func buildTarGz(t *testing.T, path string, entries []testEntry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create tar.gz: %v", err)
	}
	defer func() { _ = f.Close() }()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for _, e := range entries {
		var hdr *tar.Header
		switch {
		case e.dir:
			hdr = &tar.Header{Name: e.name + "/", Typeflag: tar.TypeDir, Mode: 0755}
		case e.symlink != "":
			hdr = &tar.Header{Name: e.name, Typeflag: tar.TypeSymlink, Linkname: e.symlink, Mode: 0777}
		default:
			hdr = &tar.Header{Name: e.name, Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(e.body))}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header %s: %v", e.name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("tar write %s: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
}

// writeTree creates files under root from a map of slash paths to contents.
func writeTree(t *testing.T, root string, m map[string]string) {
	t.Helper()
	for rel, content := range m {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("read tree: %v", err)
	}
	return out
}

// checksumTree hashes every regular file under root.
func checksumTree(t *testing.T, root string) map[string]string {
	t.Helper()
	sums := map[string]string{}
	for rel, content := range readTree(t, root) {
		h := sha256.Sum256([]byte(content))
		sums[rel] = hex.EncodeToString(h[:])
	}
	return sums
}

func equalMaps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

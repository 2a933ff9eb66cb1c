package blobstore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"meshpatch/internal/fileutil"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "blobs"), nil)
	data := []byte("patch payload")

	hash, created, err := s.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	if !created || hash != fileutil.HashBytes(data) {
		t.Fatalf("unexpected put result hash=%s created=%v", hash, created)
	}
	path, _ := s.Path(hash)
	if filepath.Base(filepath.Dir(path)) != hash[:2] {
		t.Fatalf("blob not sharded by prefix: %s", path)
	}

	_, created, err = s.Put(data)
	if err != nil || created {
		t.Fatalf("second put should be a no-op, created=%v err=%v", created, err)
	}

	got, err := s.Get(hash)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q", got)
	}
}

func TestOpenIsLazyAndReportsMissing(t *testing.T) {
	s := New(t.TempDir(), nil)
	hash, _, err := s.Put([]byte("lazy"))
	if err != nil {
		t.Fatal(err)
	}
	rc, err := s.Open(hash)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "lazy" {
		t.Fatalf("got %q", data)
	}

	missing := fileutil.HashBytes([]byte("nothing"))
	if _, err := s.Open(missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetDetectsTampering(t *testing.T) {
	s := New(t.TempDir(), nil)
	hash, _, err := s.Put([]byte("original"))
	if err != nil {
		t.Fatal(err)
	}
	path, _ := s.Path(hash)
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(hash); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestRejectsInvalidHashes(t *testing.T) {
	s := New(t.TempDir(), nil)
	for _, bad := range []string{"", "../../etc/passwd", "zz" + fileutil.HashBytes(nil)[2:]} {
		if _, err := s.Path(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestImportExportAndRemove(t *testing.T) {
	dir := t.TempDir()
	src := New(filepath.Join(dir, "a"), nil)
	dst := New(filepath.Join(dir, "b"), nil)

	hash, _, err := src.Put([]byte("shared payload"))
	if err != nil {
		t.Fatal(err)
	}
	exported := filepath.Join(dir, "out", "payload.patch")
	if err := src.Export(hash, exported); err != nil {
		t.Fatal(err)
	}
	if err := dst.Import(exported, hash); err != nil {
		t.Fatal(err)
	}
	if !dst.Has(hash) {
		t.Fatal("imported blob missing")
	}

	wrong := fileutil.HashBytes([]byte("other"))
	if err := dst.Import(exported, wrong); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}

	if err := dst.Remove(hash); err != nil {
		t.Fatal(err)
	}
	if dst.Has(hash) {
		t.Fatal("blob still present after remove")
	}
	if err := dst.Remove(hash); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
}

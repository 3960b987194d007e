package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/convergeops/converge/pkg/engine"
)

func testHost() engine.Host {
	return engine.Host{ID: "localhost", Address: "127.0.0.1"}
}

func TestExecute_CapturesOutputAndExitStatus(t *testing.T) {
	transport := New()
	ctx := context.Background()

	res, err := transport.Execute(ctx, testHost(), "echo hello; echo oops >&2", false)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if res.ExitStatus != 0 {
		t.Errorf("Expected exit 0, got %d", res.ExitStatus)
	}
	if res.Stdout != "hello" {
		t.Errorf("Expected stdout %q, got %q", "hello", res.Stdout)
	}
	if res.Stderr != "oops" {
		t.Errorf("Expected stderr %q, got %q", "oops", res.Stderr)
	}
}

func TestExecute_NonZeroExitIsNotAnError(t *testing.T) {
	transport := New()

	res, err := transport.Execute(context.Background(), testHost(), "exit 3", false)
	if err != nil {
		t.Fatalf("Expected no error for non-zero exit, got: %v", err)
	}
	if res.ExitStatus != 3 {
		t.Errorf("Expected exit 3, got %d", res.ExitStatus)
	}
}

func TestWriteFile_CreatesParentAndSetsMode(t *testing.T) {
	transport := New()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "app.conf")

	err := transport.WriteFile(context.Background(), testHost(), []byte("key=value\n"), engine.FileSpec{
		Path: path,
		Mode: 0600,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected file written, got: %v", err)
	}
	if string(data) != "key=value\n" {
		t.Errorf("Unexpected content: %q", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestCopy_CopiesFileContent(t *testing.T) {
	transport := New()
	dir := t.TempDir()

	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("payload"), 0644); err != nil {
		t.Fatalf("Failed to write source: %v", err)
	}

	dst := filepath.Join(dir, "dst.bin")
	err := transport.Copy(context.Background(), testHost(), src, engine.FileSpec{Path: dst})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("Expected destination written, got: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Unexpected content: %q", data)
	}
}

func TestCopy_MissingSource(t *testing.T) {
	transport := New()

	err := transport.Copy(context.Background(), testHost(), "/does/not/exist", engine.FileSpec{
		Path: filepath.Join(t.TempDir(), "dst"),
	})
	if err == nil {
		t.Error("Expected error for missing source, got nil")
	}
}

func TestClose_IsANoOp(t *testing.T) {
	transport := New()
	if err := transport.Close(testHost()); err != nil {
		t.Errorf("Expected nil, got: %v", err)
	}
}

package tools

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m4xw311/deepacp/errors"
)

// FileSystem is the backend file tools read from and write to. The ACP
// server swaps in a client-backed implementation when the editor offers one.
type FileSystem interface {
	ReadTextFile(ctx context.Context, path string) (string, error)
	WriteTextFile(ctx context.Context, path, content string) error
}

// LocalFileSystem reads and writes the local disk.
type LocalFileSystem struct{}

func (LocalFileSystem) ReadTextFile(ctx context.Context, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return string(content), nil
}

func (LocalFileSystem) WriteTextFile(ctx context.Context, path, content string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory '%s'", dir)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return nil
}

type ctxKey int

const (
	fileSystemKey ctxKey = iota
	workDirKey
)

// WithFileSystem routes file tools executed under ctx through fs.
func WithFileSystem(ctx context.Context, fs FileSystem) context.Context {
	return context.WithValue(ctx, fileSystemKey, fs)
}

// WithWorkDir resolves relative tool paths and commands against dir.
func WithWorkDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, workDirKey, dir)
}

func fileSystemFrom(ctx context.Context) FileSystem {
	if fs, ok := ctx.Value(fileSystemKey).(FileSystem); ok && fs != nil {
		return fs
	}
	return LocalFileSystem{}
}

func workDirFrom(ctx context.Context) string {
	dir, _ := ctx.Value(workDirKey).(string)
	return dir
}

// resolvePath returns the absolute path a tool should touch, and the
// workdir-relative form access rules are matched against.
func resolvePath(ctx context.Context, path string) (abs string, rel string) {
	wd := workDirFrom(ctx)
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
		rel = abs
		if wd != "" {
			if r, err := filepath.Rel(wd, abs); err == nil && !startsWithParent(r) {
				rel = r
			}
		}
		return abs, rel
	}
	rel = filepath.Clean(path)
	if wd == "" {
		return rel, rel
	}
	return filepath.Join(wd, rel), rel
}

func startsWithParent(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

package tools

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/m4xw311/deepacp/config"
	"github.com/m4xw311/deepacp/errors"
)

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file. Args: path (string)."
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", errors.New("missing or invalid 'path' argument")
	}

	abs, rel := resolvePath(ctx, path)
	if err := checkAccess(rel, t.fsAccess, false); err != nil {
		return "", err
	}
	return fileSystemFrom(ctx).ReadTextFile(ctx, abs)
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Args: path (string), content (string)."
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, pathOk := args["path"].(string)
	content, contentOk := args["content"].(string)
	if !pathOk || !contentOk || path == "" {
		return "", errors.New("missing or invalid 'path' or 'content' arguments")
	}

	abs, rel := resolvePath(ctx, path)
	if err := checkAccess(rel, t.fsAccess, true); err != nil {
		return "", err
	}
	if err := fileSystemFrom(ctx).WriteTextFile(ctx, abs, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// ReadDirTool lists a directory on the local disk.
type ReadDirTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadDirTool) Name() string { return "read_dir" }
func (t *ReadDirTool) Description() string {
	return "Lists the entries of a directory. Directories end with '/'. Args: path (string, defaults to '.')."
}

func (t *ReadDirTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}

	abs, rel := resolvePath(ctx, path)
	if err := checkAccess(rel, t.fsAccess, false); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", errors.Wrapf(err, "failed to list directory '%s'", path)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		entryRel := name
		if rel != "." {
			entryRel = rel + "/" + name
		}
		if hidden, _ := isPathRestricted(entryRel, t.fsAccess.Hidden); hidden {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func checkAccess(path string, fsAccess *config.FilesystemAccess, write bool) error {
	if fsAccess == nil {
		return nil
	}
	hidden, err := isPathRestricted(path, fsAccess.Hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", path)
	}
	if !write {
		return nil
	}
	readOnly, err := isPathRestricted(path, fsAccess.ReadOnly)
	if err != nil {
		return err
	}
	if readOnly {
		return errors.New("access denied: path '%s' is read-only", path)
	}
	return nil
}

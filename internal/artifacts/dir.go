package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirSink writes artifacts under Root/<runID>/<path>.
type DirSink struct {
	Root string
}

func NewDirSink(root string) *DirSink {
	if root == "" {
		root = ".vpsrenew/artifacts"
	}
	return &DirSink{Root: root}
}

func (d *DirSink) resolve(runID, path string) (string, error) {
	runID, path, err := checkKey(runID, path)
	if err != nil {
		return "", err
	}
	full := filepath.Join(d.Root, filepath.FromSlash(objectKey(runID, path)))
	rel, err := filepath.Rel(d.Root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes the sink root", path)
	}
	return full, nil
}

func (d *DirSink) Put(_ context.Context, runID, path string, content []byte) error {
	full, err := d.resolve(runID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	return os.WriteFile(full, content, 0o644)
}

func (d *DirSink) Get(_ context.Context, runID, path string) ([]byte, error) {
	full, err := d.resolve(runID, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (d *DirSink) List(_ context.Context, runID string) ([]string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	base := filepath.Join(d.Root, runID)
	var paths []string
	err := filepath.WalkDir(base, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

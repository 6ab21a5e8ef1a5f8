package repo

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local reads repository metadata from a checkout on disk. Branches do not
// apply; the working tree is what you get.
type Local struct {
	filter Filter
}

// NewLocal creates a local-filesystem metadata provider.
func NewLocal(filter Filter) *Local {
	return &Local{filter: filter}
}

// Fetch walks the directory in ref.Dir and returns its file list plus the
// top-level README if one exists.
func (l *Local) Fetch(ctx context.Context, ref Ref) (*Metadata, error) {
	root := ref.Dir
	if root == "" {
		return nil, fmt.Errorf("local repository requires a directory path")
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && !l.filter.AllowDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	meta := &Metadata{FileTree: l.filter.JoinTree(paths)}

	for _, name := range []string{"README.md", "README", "readme.md"} {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err == nil {
			meta.Readme = strings.TrimSpace(string(data))
			break
		}
	}

	return meta, nil
}

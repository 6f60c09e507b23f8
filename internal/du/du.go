// Package du measures the on-disk size of a directory tree, used for local
// repositories where the engine's own size report counts logical bytes.
package du

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

// Size returns the disk usage of root in bytes. Hard-linked files are
// counted once. Entries that vanish during the walk are skipped.
func Size(ctx context.Context, root string) (uint64, error) {
	seen := make(map[fileID]struct{})
	var total uint64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != root && isNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			if isNotExist(err) {
				return nil
			}
			return err
		}

		usage, id, linked := diskUsage(info)
		if linked {
			if _, ok := seen[id]; ok {
				return nil
			}
			seen[id] = struct{}{}
		}
		total += usage
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", root, err)
	}
	return total, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

package loader

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"glayoutd/internal/common/fsutil"
)

// CheckpointMarker identifies persisted best-model directories.
const CheckpointMarker = "checkpoint-bestperf"

// Discover scans root recursively for directories whose name contains the
// checkpoint marker. Candidate paths are sorted lexically and the last one is
// selected, so the choice is deterministic and independent of filesystem
// traversal order. A missing root or no candidates means no checkpoint
// exists, which is not an error.
func Discover(root string) (string, bool, error) {
	base, err := fsutil.ExpandHome(root)
	if err != nil {
		return "", false, err
	}
	if !fsutil.PathExists(base) {
		return "", false, nil
	}
	var found []string
	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && strings.Contains(d.Name(), CheckpointMarker) {
			found = append(found, path)
			// Checkpoints do not nest.
			return filepath.SkipDir
		}
		return nil
	})
	if walkErr != nil {
		return "", false, walkErr
	}
	if len(found) == 0 {
		return "", false, nil
	}
	sort.Strings(found)
	return found[len(found)-1], true, nil
}

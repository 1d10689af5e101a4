// Package dataset loads labeled fine-tuning examples in messages format and
// splits them into train/eval sets. Preprocessing beyond file parsing is the
// data pipeline's concern, not this package's.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"glayoutd/internal/common/fsutil"
	"glayoutd/pkg/types"
)

// Splits holds the train/eval partition of a labeled dataset.
type Splits struct {
	Train []types.Example
	Eval  []types.Example
}

// evalEvery sends every Nth example to the eval split.
const evalEvery = 6

// LoadDir reads every *.json file under dir (non-recursive), each holding one
// example or an array of examples, in files sorted by name so the resulting
// order is deterministic.
func LoadDir(dir string) ([]types.Example, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	var out []types.Example
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(base, name))
		if err != nil {
			return nil, err
		}
		exs, err := parseExamples(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, exs...)
	}
	return out, nil
}

func parseExamples(raw []byte) ([]types.Example, error) {
	var many []types.Example
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one types.Example
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []types.Example{one}, nil
}

// Split partitions examples deterministically: every evalEvery-th example
// goes to the eval split, the rest to train. Order within each split follows
// the input order.
func Split(examples []types.Example) Splits {
	var s Splits
	for i, ex := range examples {
		if (i+1)%evalEvery == 0 {
			s.Eval = append(s.Eval, ex)
			continue
		}
		s.Train = append(s.Train, ex)
	}
	return s
}

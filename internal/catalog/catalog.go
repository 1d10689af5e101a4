// Package catalog maps model-size keys to model descriptors.
// It is the system's "model phonebook": a pure, in-binary lookup from a
// friendly size key like "7b" to the base model id, architecture family,
// adapter attachment points and training template tags.
package catalog

import (
	"sort"
	"strings"

	"glayoutd/pkg/types"
)

// entries is the built-in catalog. Adapter target lists are per-entry: the
// phi architecture exposes a single fused qkv projection while the mistral
// models expose separate q/k/v projections.
var entries = map[string]types.ModelDescriptor{
	"3b": {
		Key:            "3b",
		BaseModelID:    "microsoft/Phi-3-mini-128k-instruct",
		Family:         types.FamilyPhi,
		AdapterTargets: []string{"qkv_proj"},
		InstructionTag: "<|user|>",
		ResponseTag:    "<|assistant|>",
	},
	"7b": {
		Key:            "7b",
		BaseModelID:    "mistralai/Mistral-7B-Instruct-v0.3",
		Family:         types.FamilyMistral,
		AdapterTargets: []string{"q_proj", "k_proj", "v_proj"},
		InstructionTag: "[INST]",
		ResponseTag:    "[/INST]",
	},
	"22b": {
		Key:            "22b",
		BaseModelID:    "mistralai/Codestral-22B-v0.1",
		Family:         types.FamilyMistral,
		AdapterTargets: []string{"q_proj", "k_proj", "v_proj"},
		InstructionTag: "[INST]",
		ResponseTag:    "[/INST]",
	},
}

// Resolve returns the descriptor for a model-size key. The key is trimmed
// and lowercased before lookup. Unknown keys fail with an invalid-model-key
// error; there is no fallback entry.
func Resolve(key string) (types.ModelDescriptor, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	d, ok := entries[k]
	if !ok {
		return types.ModelDescriptor{}, ErrInvalidModelKey(key)
	}
	// Copy the slice so callers cannot mutate the catalog entry.
	out := d
	out.AdapterTargets = append([]string(nil), d.AdapterTargets...)
	return out, nil
}

// Keys returns the recognized size keys in sorted order.
func Keys() []string {
	ks := make([]string, 0, len(entries))
	for k := range entries {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// Descriptors returns a copy of every catalog entry, sorted by key.
func Descriptors() []types.ModelDescriptor {
	out := make([]types.ModelDescriptor, 0, len(entries))
	for _, k := range Keys() {
		d, _ := Resolve(k)
		out = append(out, d)
	}
	return out
}

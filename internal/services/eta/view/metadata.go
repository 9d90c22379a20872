package view

import "maps"

// IncludeKey lists metadata files merged underneath a view's own metadata.
const IncludeKey = "include"

// MergeMetadata returns base overlaid with override. Nested objects merge
// recursively; every other override value replaces the base value. Neither
// input is modified.
func MergeMetadata(base, override map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any, len(override))
	}
	for key, value := range override {
		next, nextOK := value.(map[string]any)
		prev, prevOK := out[key].(map[string]any)
		if nextOK && prevOK {
			out[key] = MergeMetadata(prev, next)
			continue
		}
		out[key] = value
	}
	return out
}

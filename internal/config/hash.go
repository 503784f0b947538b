package config

import (
	"encoding/json"
	"hash/fnv"
)

func fnv64(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// PluginHash fingerprints a plugins.<name>.config block. Reformatting the
// file (indentation, key order, YAML vs JSON) keeps the same hash, so only a
// real settings change reaches the plugin. A blob that is not JSON is hashed
// as-is; the strict decoder will reject it later anyway.
func PluginHash(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return fnv64(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fnv64(raw)
	}
	return fnv64(b)
}

// contentHash fingerprints a whole parsed config. Reload compares it with
// the committed one to ignore editor saves that change nothing.
func contentHash(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return fnv64(b)
}

package ingest

import (
	"path"
	"strings"
)

// Zones are the key prefixes of the three data zones.
type Zones struct {
	Raw        string
	Refined    string
	Quarantine string
}

// DefaultZones returns the raw/, refined/ and quarantine/ prefixes.
func DefaultZones() Zones {
	return Zones{Raw: "raw/", Refined: "refined/", Quarantine: "quarantine/"}
}

// InRaw reports whether key lies in the raw zone.
func (z Zones) InRaw(key string) bool {
	return strings.HasPrefix(key, z.Raw) && len(key) > len(z.Raw)
}

// RefinedKey maps a raw key to its refined Parquet key: the raw prefix is
// replaced and the extension becomes .parquet (appended if there is none).
func (z Zones) RefinedKey(rawKey string) string {
	rest := strings.TrimPrefix(rawKey, z.Raw)
	rest = strings.TrimSuffix(rest, path.Ext(rest))
	return z.Refined + rest + ".parquet"
}

// QuarantineKey maps a raw key to its quarantine key; the rest is kept verbatim.
func (z Zones) QuarantineKey(rawKey string) string {
	return z.Quarantine + strings.TrimPrefix(rawKey, z.Raw)
}

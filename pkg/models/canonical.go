package models

// ResolvedVia says which pointer produced a resolution
type ResolvedVia string

const (
	ResolvedViaID    ResolvedVia = "id"
	ResolvedViaLabel ResolvedVia = "label"
)

// CanonicalEntry is the terminal of a canonical chain
type CanonicalEntry struct {
	Entry *CodeEntry  `json:"entry"`
	Path  []int64     `json:"path"`
	Depth int         `json:"depth"`
	Via   ResolvedVia `json:"via"`
	// ReadOnlyFallback is set when any hop followed the legacy label pointer.
	ReadOnlyFallback bool `json:"read_only_fallback"`
}

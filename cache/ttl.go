package cache

import "time"

// Categories used by the acquisition service.
const (
	CategoryExtraction = "extraction"
	CategorySearch     = "search"
)

// DefaultTTL applies to categories absent from the TTL table.
const DefaultTTL = time.Hour

// DefaultTTLs is the built-in per-category table.
func DefaultTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		CategoryExtraction: 24 * time.Hour,
		CategorySearch:     24 * time.Hour,
	}
}

// Package pagination holds the page size bounds shared by list endpoints.
package pagination

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// NormalizeLimit maps non-positive limits to DefaultLimit and caps the rest.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

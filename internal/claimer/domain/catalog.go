package domain

import "time"

// FreeItem is a catalog entry currently offered at zero cost. It is
// recomputed on every catalog query and never persisted.
type FreeItem struct {
	ID        string
	Title     string
	Namespace string
	URL       string
	FreeUntil time.Time // zero when the storefront doesn't say
	Eligible  bool      // false when the offer exists but can't be claimed (region lock etc.)
}

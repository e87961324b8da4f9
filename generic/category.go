/*
category.go - Category registration and lookup

PURPOSE:
  Provides a registry for domain packages to register their categories.
  The engine stays kind-agnostic: it only knows that a category exists
  and which kind owns it.

HOW IT WORKS:
  1. Domain packages (contribution, penalty) declare Category constants
  2. They register them in init()
  3. Ledger.Create rejects entries whose category is unknown or belongs
     to the other kind

USAGE:
  // In penalty/types.go
  func init() {
      generic.RegisterCategory(generic.KindPenalty, CategoryMeetingAbsence)
  }

  kind, ok := generic.LookupCategory("meeting_absence") // KindPenalty, true

SEE ALSO:
  - contribution/types.go
  - penalty/types.go
*/
package generic

import (
	"sort"
	"sync"
)

// =============================================================================
// CATEGORY REGISTRY
// =============================================================================

var (
	categoryRegistry = make(map[Category]Kind)
	registryMu       sync.RWMutex
)

// RegisterCategory adds a category for a kind to the global registry.
// Call this from domain package init() functions.
func RegisterCategory(kind Kind, c Category) {
	registryMu.Lock()
	defer registryMu.Unlock()
	categoryRegistry[c] = kind
}

// LookupCategory returns the kind owning a category.
func LookupCategory(c Category) (Kind, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	k, ok := categoryRegistry[c]
	return k, ok
}

// CategoryBelongsTo reports whether c is registered for kind.
func CategoryBelongsTo(kind Kind, c Category) bool {
	k, ok := LookupCategory(c)
	return ok && k == kind
}

// ListCategories returns the categories registered for a kind, sorted.
func ListCategories(kind Kind) []Category {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var result []Category
	for c, k := range categoryRegistry {
		if k == kind {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

package generic

import "time"

// =============================================================================
// ENTRY FILTER - Explicit, fully enumerated query parameters
// =============================================================================

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 200
)

// EntryFilter selects ledger entries. Zero-valued fields do not filter.
// Page and Limit only apply to paginated listing; statistics ignore them.
type EntryFilter struct {
	Kind        *Kind
	SubjectID   SubjectID
	ReferenceID string
	Category    *Category
	Status      *Status
	Overdue     *bool
	DueFrom     *time.Time
	DueTo       *time.Time
	CreatedFrom *time.Time
	CreatedTo   *time.Time

	Page  int
	Limit int
}

// Validate checks the filter and fills pagination defaults.
func (f *EntryFilter) Validate() error {
	verr := &ValidationError{}
	if f.Kind != nil && !f.Kind.Valid() {
		verr.Add("kind", "unknown kind")
	}
	if f.Status != nil && !f.Status.Valid() {
		verr.Add("status", "unknown status")
	}
	if f.Kind != nil && f.Category != nil && !CategoryBelongsTo(*f.Kind, *f.Category) {
		verr.Add("category", "unknown category for kind")
	}
	if f.DueFrom != nil && f.DueTo != nil && f.DueTo.Before(*f.DueFrom) {
		verr.Add("dueTo", "must not be before dueFrom")
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedTo.Before(*f.CreatedFrom) {
		verr.Add("createdTo", "must not be before createdFrom")
	}
	if f.Page < 0 {
		verr.Add("page", "must be positive")
	}
	if f.Limit < 0 || f.Limit > MaxPageLimit {
		verr.Add("limit", "must be between 1 and 200")
	}
	if err := verr.OrNil(); err != nil {
		return err
	}
	if f.Page == 0 {
		f.Page = 1
	}
	if f.Limit == 0 {
		f.Limit = DefaultPageLimit
	}
	return nil
}

// Offset returns the row offset for the current page.
func (f EntryFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// Matches applies the filter to a single entry. Stores that cannot push the
// filter down to a query language use this.
func (f EntryFilter) Matches(e Entry) bool {
	if f.Kind != nil && e.Kind != *f.Kind {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.ReferenceID != "" && e.ReferenceID != f.ReferenceID {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	if f.Overdue != nil && e.IsOverdue != *f.Overdue {
		return false
	}
	if f.DueFrom != nil && (e.DueDate == nil || e.DueDate.Before(*f.DueFrom)) {
		return false
	}
	if f.DueTo != nil && (e.DueDate == nil || e.DueDate.After(*f.DueTo)) {
		return false
	}
	if f.CreatedFrom != nil && e.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && e.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	return true
}

// Page is one page of a filtered listing.
type Page struct {
	Items []Entry
	Total int
	Page  int
	Limit int
}

package reportflow

// Pagination defaults for list operations.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// PageRequest selects one page of a list operation. Page is 1-based.
type PageRequest struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Normalize applies defaults and bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Offset returns the number of records to skip.
func (p PageRequest) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}

// Page is one page of results.
type Page[T any] struct {
	Items []T   `json:"docs"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

// NewPage assembles a Page from a normalized request.
func NewPage[T any](items []T, total int64, req PageRequest) Page[T] {
	req = req.Normalize()
	pages := int((total + int64(req.Limit) - 1) / int64(req.Limit))
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Page: req.Page, Limit: req.Limit, Pages: pages}
}

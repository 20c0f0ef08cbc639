package shared

import "math"

// MaxPerPage caps list page sizes.
const MaxPerPage = 100

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PageRequest is the caller-side half of Pagination.
type PageRequest struct {
	Page    int
	PerPage int
}

// Normalize applies defaults and caps.
func (p PageRequest) Normalize() PageRequest {
	if p.PerPage <= 0 {
		p.PerPage = 20
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	return p
}

// Offset returns the row offset for the page.
func (p PageRequest) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.PerPage
}

// NewPagination computes pagination metadata.
func NewPagination(req PageRequest, total int) Pagination {
	req = req.Normalize()
	totalPages := int(math.Ceil(float64(total) / float64(req.PerPage)))
	return Pagination{Page: req.Page, PerPage: req.PerPage, Total: total, TotalPages: totalPages}
}

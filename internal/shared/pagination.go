package shared

import "math"

// Pagination carries listing metadata returned alongside a page of rows.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"pages"`
}

// NewPagination normalises the request and derives TotalPages from the
// same total that produced the rows.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 10
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Offset returns the SQL offset for the page.
func (p Pagination) Offset() int {
	off := (p.Page - 1) * p.PerPage
	if off < 0 {
		return 0
	}
	return off
}

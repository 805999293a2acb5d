// Package paging computes windowed result sets with count and navigation
// metadata.
package paging

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
)

var ErrInvalidPage = errors.New("invalid page")

// Request selects one page. Pages are numbered from 1.
type Request struct {
	Page int `json:"page"`
	Size int `json:"pageSize"`
}

func (r Request) Validate() error {
	if r.Page < 1 {
		return fmt.Errorf("%w: page %d must be >= 1", ErrInvalidPage, r.Page)
	}
	if r.Size < 1 {
		return fmt.Errorf("%w: page size %d must be >= 1", ErrInvalidPage, r.Size)
	}
	return nil
}

// Offset is the number of items before the page. It saturates at
// math.MaxInt for pages too far out to address.
func (r Request) Offset() int {
	if r.Page < 1 || r.Size < 1 {
		return 0
	}
	if r.Page-1 > math.MaxInt/r.Size {
		return math.MaxInt
	}
	return (r.Page - 1) * r.Size
}

// Limit is the maximum number of items on the page.
func (r Request) Limit() int { return r.Size }

// Page is one window of a result set. TotalCount covers the whole set.
type Page[T any] struct {
	Items           []T               `json:"items"`
	TotalCount      int               `json:"totalCount"`
	Page            int               `json:"page"`
	PageSize        int               `json:"pageSize"`
	TotalPages      int               `json:"totalPages"`
	HasNextPage     bool              `json:"hasNextPage"`
	HasPreviousPage bool              `json:"hasPreviousPage"`
	Links           map[string]string `json:"links,omitempty"`
}

// TotalPages returns ceil(total/size), or 0 when total is 0.
func TotalPages(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// New builds a page. A page past the end is valid and has no items.
func New[T any](items []T, total, page, size int) (Page[T], error) {
	if total < 0 {
		return Page[T]{}, fmt.Errorf("%w: total count %d is negative", ErrInvalidPage, total)
	}
	if err := (Request{Page: page, Size: size}).Validate(); err != nil {
		return Page[T]{}, err
	}
	if items == nil {
		items = []T{}
	}
	pages := TotalPages(total, size)
	return Page[T]{
		Items:           items,
		TotalCount:      total,
		Page:            page,
		PageSize:        size,
		TotalPages:      pages,
		HasNextPage:     page < pages,
		HasPreviousPage: page > 1,
	}, nil
}

// WithLinks returns a copy of p with navigation links built from base. The
// page and pageSize query parameters are replaced; others are kept.
func (p Page[T]) WithLinks(base *url.URL) Page[T] {
	if base == nil {
		return p
	}
	link := func(page int) string {
		u := *base
		q := u.Query()
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(p.PageSize))
		u.RawQuery = q.Encode()
		return u.String()
	}

	last := max(p.TotalPages, 1)
	links := map[string]string{
		"self":  link(p.Page),
		"first": link(1),
		"last":  link(last),
	}
	if p.HasPreviousPage {
		links["prev"] = link(min(p.Page-1, last))
	}
	if p.HasNextPage {
		links["next"] = link(p.Page + 1)
	}
	p.Links = links
	return p
}

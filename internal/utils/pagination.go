// Package utils holds small helpers shared by the HTTP and service layers.
package utils

import "strconv"

// Page size bounds for list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page number and a page size, both already clamped.
type Page struct {
	Number int
	Size   int
}

// NewPage clamps number to >= 1 and size to 1..max. A non-positive size
// becomes DefaultPageSize; a non-positive max means MaxPageSize.
func NewPage(number, size, max int) Page {
	if max <= 0 {
		max = MaxPageSize
	}
	if number < 1 {
		number = 1
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > max:
		size = max
	}
	return Page{Number: number, Size: size}
}

// ParsePage reads raw query values. Unparseable values fall back to the
// defaults before clamping.
func ParsePage(number, size string) Page {
	return NewPage(AtoiDefault(number, 1), AtoiDefault(size, DefaultPageSize), MaxPageSize)
}

// Offset is the number of rows before this page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages is the page count for total rows.
func (p Page) TotalPages(total int64) int {
	if total <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// HasNext reports whether a page follows this one.
func (p Page) HasNext(total int64) bool { return p.Number < p.TotalPages(total) }

// AtoiDefault parses s as a base-10 int, returning def when s is empty or
// malformed.
func AtoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Package paging translates page numbers into stored-row windows.
package paging

// DefaultPageSize is the number of articles per page.
const DefaultPageSize = 10

// Resolver computes page windows for a fixed page size. The zero value uses
// DefaultPageSize.
type Resolver struct {
	Size int
}

// New returns a Resolver for the given page size, falling back to
// DefaultPageSize for non-positive values.
func New(size int) Resolver {
	if size <= 0 {
		size = DefaultPageSize
	}
	return Resolver{Size: size}
}

func (r Resolver) size() int {
	if r.Size <= 0 {
		return DefaultPageSize
	}
	return r.Size
}

// PageCount returns the number of pages implied by a provider found count.
// Zero found means zero pages; otherwise found/size + 1.
func (r Resolver) PageCount(found int) int {
	if found <= 0 {
		return 0
	}
	return found/r.size() + 1
}

// MaxPage returns the highest page fully or partially materialised by
// stored rows.
func (r Resolver) MaxPage(stored int) int {
	if stored <= 0 {
		return 0
	}
	n := stored / r.size()
	if stored%r.size() != 0 {
		n++
	}
	return n
}

// Offset returns the row offset of a 1-based page.
func (r Resolver) Offset(page int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * r.size()
}

// Window returns the offset and limit for a 1-based page.
func (r Resolver) Window(page int) (offset, limit int) {
	return r.Offset(page), r.size()
}

// Available reports whether page is within the stored extent.
func (r Resolver) Available(page, stored int) bool {
	return page >= 1 && page <= r.MaxPage(stored)
}

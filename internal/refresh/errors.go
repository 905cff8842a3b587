package refresh

import "fmt"

// ValidationError rejects a request before any store or provider access.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// SequencingError means the requested page skips ahead of the stored extent.
// Only MaxPage+1 can be fetched next.
type SequencingError struct {
	Requested int
	MaxPage   int
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("page %d requested but only %d page(s) stored; request page %d next",
		e.Requested, e.MaxPage, e.MaxPage+1)
}

// RangeError means the page lies beyond what the provider's found count
// implies.
type RangeError struct {
	Requested  int
	TotalPages int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("page %d out of range (total pages %d)", e.Requested, e.TotalPages)
}

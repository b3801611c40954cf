// Package odontogram is the diagnostic state engine of the dental chart.
//
// It stores findings per tooth surface, resolves which finding dominates the
// display, enforces the exclusivity of absence and extraction findings,
// groups surfaces and identical findings for compact display, and hydrates
// stored charts into a consistent State. The package performs no I/O.
package odontogram

// Package store implements the keyed store adapter used by the issuer and the
// reconciler.  Every operation works from a Schema describing the table and
// the semantic type of each field, and every write is available both live
// (executed immediately) and dry (returned as a Statement for later batch
// commit).  Key fields are coerced between their wire string form and
// uuid.UUID at the boundary so that typed keys never leak to callers.
package store

import "errors"

// ErrInvalidQuery is returned when a query or patch cannot be turned into a
// statement, for example an unknown operator or an update without a filter.
var ErrInvalidQuery = errors.New("invalid query")

// ErrUnknownField is returned when a query, record or patch references a
// field that the schema does not declare.
var ErrUnknownField = errors.New("unknown field")

// ErrInvalidKey is returned when a key-typed field holds a value that cannot
// be coerced into a typed key.
var ErrInvalidKey = errors.New("invalid key")

// ErrConflict is returned by the committer when a guarded statement matched
// no rows.  The whole batch has been rolled back when this is returned.
var ErrConflict = errors.New("conflict")

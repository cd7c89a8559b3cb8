// Package types holds the identifiers and typed errors shared by the
// configuration store and the flash sector log.
//
// Errors carry a stable category (read/write/allocation/integrity/capacity)
// so callers can branch on intent rather than text:
//
//	if errors.Is(err, types.ErrCapacity) {
//	    // no reusable sector left; clear the crash log
//	}
//
// This package has no dependencies beyond the standard library.
package types

// Package flash models erase-block NOR flash.
//
// A Device is addressed in bytes and erased in sectors. Erasing sets every
// byte of a sector to 0xff; writing can only clear bits. Writing a value that
// would need a cleared bit set again fails with ErrNotErased, which is how
// real parts behave when software forgets an erase.
//
// Three implementations are provided:
//
//   - MemDevice keeps the image in RAM and supports fault injection.
//   - FileDevice maps an image file so tools can inspect and edit dumps.
//   - Instrument wraps any Device with prometheus counters and slog tracing.
//
// Devices are synchronous. Operations are never retried here; callers
// decide what a failed erase or write means for their on-flash state.
package flash

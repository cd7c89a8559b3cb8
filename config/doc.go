// Package config is a handle-indexed parameter store persisted as one
// packed, CRC-16 checked blob on a medium.Medium.
//
// # Layout
//
// The blob starts at a fixed offset of the medium:
//
//	header (16 bytes)  magic, crc16, length:12 | params:10
//	table              one 4-byte entry per parameter: handle, type:4 | length:12
//	data               values in table order, strings NUL terminated
//
// A value has no address of its own; its offset is the sum of the sizes
// before it, so every commit rewrites the whole blob.
//
// # Access
//
// Parameters are keyed by a 16-bit handle (see config/handle). Read parses
// the table and loads small values; larger values are read from the medium
// on first access. Values are either a read-only snapshot or a writable
// copy, which marks the parameter dirty:
//
//	s, _ := config.New(m, config.WithOffset(0), config.WithSize(4096))
//	_ = s.Read()
//	port := config.Get[uint16](s, handle.Of("mqtt_port"))
//	config.Set(s, handle.Of("mqtt_port"), port+1)
//	s.SetString(handle.Of("device_name"), "kitchen")
//	err := s.Write()
//
// Typed accessors are functions because methods cannot have type
// parameters.
//
// # Commit
//
// Write compares dirty values with the stored bytes and does nothing when
// none changed. Otherwise it serializes every parameter, writes header and
// blob, commits the medium and reloads the table from what was written. A
// failed commit leaves the in-memory table untouched.
//
// Release drops cached snapshots and unchanged writable copies. A GCRunner
// calls it after an idle period.
package config

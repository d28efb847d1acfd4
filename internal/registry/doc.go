// Package registry provides the Input Registry: the table that maps an
// input type name (as written under the "input" key of a job) to the
// loader that constructs objects of that type.
//
// Providers under modules/ populate a Registry at startup through the
// Module interface. A Registry is an ordinary value, so tests build their
// own instead of sharing process-wide state.
package registry

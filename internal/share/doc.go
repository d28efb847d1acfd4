// Package share implements the resource sharing layer: one manager owns
// the real instance of every heavy input object and workers hold proxies
// that forward lookups to it.
//
// Only the resource.Object and resource.Counter methods cross the
// boundary. Objects are read-only after construction, so the manager
// serves concurrent calls without locking the objects themselves.
package share

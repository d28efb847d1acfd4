// Package input is the per-job cache of constructed input objects.
//
// Every entry under the job's "input" key becomes a list of slots, one per
// configured item, identified by (type, index). A slot is either unbuilt,
// built for the current file only (unsafe), or built for the whole job
// (safe). Unsafe slots are dropped when the next file begins.
//
// The controlling goroutine owns a Store. Workers get their own Store from
// Fork, which shares the safe objects (proxies when sharing is active) and
// rebuilds the unsafe ones locally.
package input

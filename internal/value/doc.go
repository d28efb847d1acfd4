// Package value resolves individual configuration values.
//
// A value is either a literal or a block with a "type" key (Sequence,
// Random, Catalog, Dict, FitsHeader, NumberedFile, FormattedStr). Each
// resolution reports whether the result is safe, meaning it is the same
// for every output file and may be reused for the whole job.
//
// The Resolver memoizes the latest value of every block. Input-backed
// values must be dropped whenever their input object is rebuilt; the input
// cache does this through Evaluator.RemoveCurrent.
package value

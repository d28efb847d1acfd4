// Package config defines the format-agnostic configuration tree of a
// simulation job, along with the Loader interface used to read it from
// disk.
//
// The tree is an ordered, nested mapping of string keys to scalars, lists
// and sub-maps. It is parsed once and passed by reference to every
// component. A few branches are special: `input` lists the heavy resources
// to construct, `output` drives file assembly, and `image`, `gal`, `psf`
// and `pix` are handed to the renderer. The mutable branches are deep
// copied per task (see CopyForTask); everything else is shared read-only.
//
// Concrete loaders live in the hcl and yamlconf packages.
package config

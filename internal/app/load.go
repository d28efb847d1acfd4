package app

import (
	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/hcl"
	"github.com/vk/simgrid/internal/yamlconf"
)

// DefaultLoader routes .hcl files to the HCL loader and YAML or JSON files
// to the YAML loader.
func DefaultLoader() config.Loader {
	m := config.NewMultiLoader()
	// Both patterns are constants; Handle only fails on a malformed glob.
	_ = m.Handle("*.hcl", hcl.NewLoader())
	_ = m.Handle("*.{yaml,yml,json}", yamlconf.NewLoader())
	return m
}

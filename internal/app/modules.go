package app

import (
	"github.com/vk/simgrid/internal/registry"
	"github.com/vk/simgrid/modules/catalog"
	"github.com/vk/simgrid/modules/dict"
	"github.com/vk/simgrid/modules/fitsheader"
	"github.com/vk/simgrid/modules/grid"
)

// coreModules is the definitive list of all input types that are compiled
// into the simgrid binary. Registration order decides which count-capable
// input sizes images when several are configured.
var coreModules = []registry.Module{
	&catalog.Module{},
	&dict.Module{},
	&fitsheader.Module{},
	&grid.Module{},
}

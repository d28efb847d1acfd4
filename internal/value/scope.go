package value

import (
	"math/rand/v2"

	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/resource"
)

// Index keys understood by Scope.IndexFor.
const (
	FileNumKey  = "file_num"
	ImageNumKey = "image_num"
	ObjNumKey   = "obj_num"
)

// InputSource gives value kinds access to constructed input objects.
type InputSource interface {
	Input(typ string, num int) (resource.Object, error)
}

// Scope is the position in the job a value is being resolved for.
type Scope struct {
	Root     config.Map
	FileNum  int
	ImageNum int
	ObjNum   int
	// IndexKey selects which of the numbers above drives sequences and
	// per-index random draws. Empty means ObjNumKey.
	IndexKey string
	Seed     int64
	Inputs   InputSource
}

// IndexFor returns the number named by key.
func (s *Scope) IndexFor(key string) int {
	switch key {
	case FileNumKey:
		return s.FileNum
	case ImageNumKey:
		return s.ImageNum
	default:
		return s.ObjNum
	}
}

// Index returns the number selected by the scope's IndexKey.
func (s *Scope) Index() int {
	return s.IndexFor(s.Key())
}

// Key returns the effective index key.
func (s *Scope) Key() string {
	if s.IndexKey == "" {
		return ObjNumKey
	}
	return s.IndexKey
}

// With returns a copy of the scope using a different index key.
func (s *Scope) With(indexKey string) *Scope {
	c := *s
	c.IndexKey = indexKey
	return &c
}

// RNG returns a generator seeded from the scope's seed and current index.
// Two scopes at the same index always produce the same stream.
func (s *Scope) RNG() *rand.Rand {
	return rand.New(rand.NewPCG(uint64(s.Seed), uint64(s.Index())))
}

package output

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vk/simgrid/internal/layer"
)

// ErrInvalidExtensionLayout is returned when the requested HDU numbers of a
// file are not 0..n-1.
var ErrInvalidExtensionLayout = errors.New("invalid extension layout")

// Layout maps HDU numbers of one file to layers. HDU 0 is the main image.
type Layout struct {
	slots map[int]layer.Kind
}

// NewLayout returns a layout holding only the main image.
func NewLayout() *Layout {
	return &Layout{slots: map[int]layer.Kind{0: layer.Main}}
}

// Add places kind at hdu.
func (l *Layout) Add(kind layer.Kind, hdu int) error {
	if hdu <= 0 {
		return fmt.Errorf("%w: %s hdu must be positive, got %d", ErrInvalidExtensionLayout, kind, hdu)
	}
	if prev, ok := l.slots[hdu]; ok {
		return fmt.Errorf("%w: hdu %d requested by both %s and %s", ErrInvalidExtensionLayout, hdu, prev, kind)
	}
	l.slots[hdu] = kind
	return nil
}

// Validate checks that the HDU numbers have no gaps.
func (l *Layout) Validate() error {
	for i := range len(l.slots) {
		if _, ok := l.slots[i]; !ok {
			return fmt.Errorf("%w: hdu numbers must be contiguous from 0, missing %d in %v", ErrInvalidExtensionLayout, i, l.numbers())
		}
	}
	return nil
}

// Kinds returns the layers in HDU order.
func (l *Layout) Kinds() []layer.Kind {
	out := make([]layer.Kind, 0, len(l.slots))
	for _, n := range l.numbers() {
		out = append(out, l.slots[n])
	}
	return out
}


func (l *Layout) numbers() []int {
	nums := make([]int, 0, len(l.slots))
	for n := range l.slots {
		nums = append(nums, n)
	}
	slices.Sort(nums)
	return nums
}

// Package layer holds rendered pixel layers.
package layer

import "fmt"

// Kind names one of the layers a build can produce.
type Kind string

const (
	Main   Kind = "main"
	PSF    Kind = "psf"
	Weight Kind = "weight"
	BadPix Kind = "badpix"
)

// Extras are the optional layers, in the order they are considered.
var Extras = []Kind{PSF, Weight, BadPix}

// Image is a row-major pixel buffer.
type Image struct {
	Width  int
	Height int
	Pix    []float64
}

// New allocates a zeroed width x height image.
func New(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// Fill returns a width x height image with every pixel set to v.
func Fill(width, height int, v float64) *Image {
	im := New(width, height)
	for i := range im.Pix {
		im.Pix[i] = v
	}
	return im
}

// At returns the pixel at (x, y).
func (im *Image) At(x, y int) float64 { return im.Pix[y*im.Width+x] }

// Add adds v to the pixel at (x, y).
func (im *Image) Add(x, y int, v float64) { im.Pix[y*im.Width+x] += v }

// SameSize reports whether both images have equal dimensions.
func (im *Image) SameSize(other *Image) bool {
	return im.Width == other.Width && im.Height == other.Height
}

func (im *Image) String() string { return fmt.Sprintf("%dx%d", im.Width, im.Height) }

// Set is everything rendered for one image.
type Set struct {
	Main   *Image
	PSF    *Image
	Weight *Image
	BadPix *Image
}

// Get returns the layer of kind k, or nil.
func (s *Set) Get(k Kind) *Image {
	switch k {
	case Main:
		return s.Main
	case PSF:
		return s.PSF
	case Weight:
		return s.Weight
	case BadPix:
		return s.BadPix
	}
	return nil
}

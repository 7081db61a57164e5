package catalog

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
)

// Polarity is the contrast orientation reported by the detector. The numeric
// values match the legacy fset3 encoding.
type Polarity uint8

const (
	PolarityB         Polarity = 0
	PolarityA         Polarity = 1
	PolarityAmbiguous Polarity = 2
)

func (p Polarity) String() string {
	switch p {
	case PolarityA:
		return "A"
	case PolarityB:
		return "B"
	case PolarityAmbiguous:
		return "ambiguous"
	default:
		return fmt.Sprintf("Polarity(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the three known polarities.
func (p Polarity) Valid() bool {
	return p <= PolarityAmbiguous
}

// InSubsetA reports whether a reference feature of this polarity is indexed in subset A.
func (p Polarity) InSubsetA() bool {
	return p == PolarityA || p == PolarityAmbiguous
}

// InSubsetB reports whether a reference feature of this polarity is indexed in subset B.
func (p Polarity) InSubsetB() bool {
	return p == PolarityB || p == PolarityAmbiguous
}

// Feature is one reference keypoint of a registered page.
type Feature struct {
	Descriptor []float32
	Pos        r2.Vec // page coordinates, mm
	ImagePos   r2.Vec // pixel position in the source image
	Polarity   Polarity
	PageID     int
	ImageID    int
}

// Image describes one source image a page's features were extracted from.
type Image struct {
	ID     int
	Width  int
	Height int
}

// Page is a registered reference page.
type Page struct {
	ID     int
	Images []Image
}

func (p Page) clone() Page {
	p.Images = append([]Image(nil), p.Images...)
	return p
}

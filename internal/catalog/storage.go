package catalog

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kozaktomas/pagefinder/internal/constants"
)

// LegacyExt is the file extension of the legacy little-endian catalog format.
const LegacyExt = ".fset3"

const (
	nativeMagic   = "pagefinder-catalog"
	nativeVersion = 1

	// largest count preallocated from an untrusted header
	maxPrealloc = 1 << 16
)

type nativeFile struct {
	Magic    string
	Version  int
	Dim      int
	Pages    []Page
	Features []Feature
}

// Load reads a catalog from path. Files ending in .fset3 are read in the
// legacy binary layout, anything else as a native catalog file.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var c *Catalog
	if isLegacy(path) {
		c, err = ReadLegacy(r)
	} else {
		c, err = ReadNative(r)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}
	return c, nil
}

// Save writes c to path, choosing the format from the extension like Load.
func Save(path string, c *Catalog) (err error) {
	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create catalog file: %w", err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	w := bufio.NewWriter(f)
	if isLegacy(path) {
		err = WriteLegacy(w, c)
	} else {
		err = WriteNative(w, c)
	}
	if err != nil {
		return fmt.Errorf("failed to save catalog %s: %w", path, err)
	}
	return w.Flush()
}

func isLegacy(path string) bool {
	return strings.EqualFold(filepath.Ext(path), LegacyExt)
}

// WriteNative encodes c as a versioned gob stream.
func WriteNative(w io.Writer, c *Catalog) error {
	file := nativeFile{
		Magic:    nativeMagic,
		Version:  nativeVersion,
		Dim:      c.dim,
		Pages:    c.pages,
		Features: c.features,
	}
	if err := gob.NewEncoder(w).Encode(file); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	return nil
}

// ReadNative decodes a catalog written by WriteNative.
func ReadNative(r io.Reader) (*Catalog, error) {
	var file nativeFile
	if err := gob.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if file.Magic != nativeMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, file.Magic)
	}
	if file.Version != nativeVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFile, file.Version)
	}
	if len(file.Features) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := New(file.Dim)
	for _, p := range file.Pages {
		if err := c.AddPage(p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}
	c.features = file.Features
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return c, nil
}

// legacyFeature is one fixed-size feature record of the fset3 layout.
type legacyFeature struct {
	ImageX, ImageY float32
	X, Y           float32
	Descriptor     [constants.DescriptorDim]float32
	Polarity       int32
	PageID         int32
	ImageID        int32
}

type legacyImage struct {
	Width, Height, ImageID int32
}

// WriteLegacy encodes c in the fset3 layout: feature count, feature records,
// page count, then per page its ID, image count and image records. All
// values are little-endian 32-bit.
func WriteLegacy(w io.Writer, c *Catalog) error {
	if c.dim != constants.DescriptorDim {
		return fmt.Errorf("%w: fset3 stores %d, catalog has %d", ErrUnsupportedDim, constants.DescriptorDim, c.dim)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(c.features))); err != nil {
		return err
	}
	for _, f := range c.features {
		rec := legacyFeature{
			ImageX:   float32(f.ImagePos.X),
			ImageY:   float32(f.ImagePos.Y),
			X:        float32(f.Pos.X),
			Y:        float32(f.Pos.Y),
			Polarity: int32(f.Polarity),
			PageID:   int32(f.PageID),
			ImageID:  int32(f.ImageID),
		}
		copy(rec.Descriptor[:], f.Descriptor)
		if err := binary.Write(w, binary.LittleEndian, &rec); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, int32(len(c.pages))); err != nil {
		return err
	}
	for _, p := range c.pages {
		head := [2]int32{int32(p.ID), int32(len(p.Images))}
		if err := binary.Write(w, binary.LittleEndian, head); err != nil {
			return err
		}
		for _, img := range p.Images {
			rec := legacyImage{Width: int32(img.Width), Height: int32(img.Height), ImageID: int32(img.ID)}
			if err := binary.Write(w, binary.LittleEndian, &rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadLegacy decodes the fset3 layout. A file declaring zero features yields
// ErrEmptyCatalog; truncated or inconsistent files yield ErrCorrupt.
func ReadLegacy(r io.Reader) (*Catalog, error) {
	var num int32
	if err := binary.Read(r, binary.LittleEndian, &num); err != nil {
		return nil, corrupt(err)
	}
	if num == 0 {
		return nil, ErrEmptyCatalog
	}
	if num < 0 {
		return nil, fmt.Errorf("%w: negative feature count %d", ErrCorrupt, num)
	}

	features := make([]Feature, 0, min(int(num), maxPrealloc))
	var rec legacyFeature
	for i := int32(0); i < num; i++ {
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, corrupt(err)
		}
		features = append(features, Feature{
			Descriptor: append([]float32(nil), rec.Descriptor[:]...),
			Pos:        vec(rec.X, rec.Y),
			ImagePos:   vec(rec.ImageX, rec.ImageY),
			Polarity:   Polarity(rec.Polarity),
			PageID:     int(rec.PageID),
			ImageID:    int(rec.ImageID),
		})
	}

	var pageNum int32
	if err := binary.Read(r, binary.LittleEndian, &pageNum); err != nil {
		return nil, corrupt(err)
	}
	if pageNum < 0 {
		return nil, fmt.Errorf("%w: negative page count %d", ErrCorrupt, pageNum)
	}

	c := New(constants.DescriptorDim)
	for i := int32(0); i < pageNum; i++ {
		var head [2]int32
		if err := binary.Read(r, binary.LittleEndian, &head); err != nil {
			return nil, corrupt(err)
		}
		if head[1] < 0 {
			return nil, fmt.Errorf("%w: negative image count on page %d", ErrCorrupt, head[0])
		}
		page := Page{ID: int(head[0]), Images: make([]Image, 0, min(int(head[1]), maxPrealloc))}
		for j := int32(0); j < head[1]; j++ {
			var img legacyImage
			if err := binary.Read(r, binary.LittleEndian, &img); err != nil {
				return nil, corrupt(err)
			}
			page.Images = append(page.Images, Image{ID: int(img.ImageID), Width: int(img.Width), Height: int(img.Height)})
		}
		if err := c.mergePage(page); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}

	c.features = features
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return c, nil
}

func corrupt(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated", ErrCorrupt)
	}
	return err
}

func vec(x, y float32) r2.Vec {
	return r2.Vec{X: float64(x), Y: float64(y)}
}

package catalog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kozaktomas/pagefinder/internal/constants"
)

func legacyCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := New(constants.DescriptorDim)
	_ = c.AddPage(Page{ID: 0, Images: []Image{{ID: 0, Width: 800, Height: 600}, {ID: 1, Width: 400, Height: 300}}})
	_ = c.AddPage(Page{ID: 3, Images: []Image{{ID: 0, Width: 640, Height: 480}}})
	for i := range 5 {
		f := Feature{
			Descriptor: desc(constants.DescriptorDim, float32(i)*0.25),
			Pos:        r2.Vec{X: float64(i) * 1.5, Y: 10},
			ImagePos:   r2.Vec{X: float64(i) * 12, Y: 80},
			Polarity:   Polarity(i % 3),
			PageID:     []int{0, 3}[i%2],
			ImageID:    i % 2,
		}
		if err := c.Add(f); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func TestSaveLoad_Formats(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"native", "pages.cat"},
		{"legacy", "pages.fset3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			want := legacyCatalog(t)

			if err := Save(path, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}

			if diff := cmp.Diff(want.Features(), got.Features()); diff != "" {
				t.Errorf("features (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(want.Pages(), got.Pages()); diff != "" {
				t.Errorf("pages (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLegacy_RecordSize(t *testing.T) {
	var buf bytes.Buffer
	c := legacyCatalog(t)
	if err := WriteLegacy(&buf, c); err != nil {
		t.Fatal(err)
	}

	// count + 5 records of (4 coords + 64 floats + 3 ints) + page count +
	// page 0 (2 ints + 2 images) + page 3 (2 ints + 1 image)
	want := 4 + 5*(4*4+64*4+3*4) + 4 + (8 + 2*12) + (8 + 12)
	if buf.Len() != want {
		t.Errorf("expected %d bytes, got %d", want, buf.Len())
	}
}

func TestLegacy_UnsupportedDim(t *testing.T) {
	c := newTestCatalog(t, 1)
	if err := WriteLegacy(&bytes.Buffer{}, c); !errors.Is(err, ErrUnsupportedDim) {
		t.Errorf("expected ErrUnsupportedDim, got %v", err)
	}
}

func TestReadLegacy_Errors(t *testing.T) {
	var full bytes.Buffer
	if err := WriteLegacy(&full, legacyCatalog(t)); err != nil {
		t.Fatal(err)
	}

	empty := new(bytes.Buffer)
	_ = binary.Write(empty, binary.LittleEndian, int32(0))
	_ = binary.Write(empty, binary.LittleEndian, int32(0))

	negative := new(bytes.Buffer)
	_ = binary.Write(negative, binary.LittleEndian, int32(-3))

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty catalog", empty.Bytes(), ErrEmptyCatalog},
		{"no header", nil, ErrCorrupt},
		{"negative count", negative.Bytes(), ErrCorrupt},
		{"truncated record", full.Bytes()[:100], ErrCorrupt},
		{"missing pages", full.Bytes()[:full.Len()-20], ErrCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadLegacy(bytes.NewReader(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestReadNative_Errors(t *testing.T) {
	var empty bytes.Buffer
	if err := WriteNative(&empty, New(4)); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadNative(bytes.NewReader(empty.Bytes())); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("expected ErrEmptyCatalog, got %v", err)
	}
	if _, err := ReadNative(bytes.NewReader([]byte("not a catalog"))); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.fset3"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	if errors.Is(err, ErrEmptyCatalog) {
		t.Error("expected I/O failure to be distinct from an empty catalog")
	}
}

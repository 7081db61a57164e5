// Package detector provides detectors that do not look at pixels: a replay
// detector that returns recorded feature lists, and a synthetic scene
// generator used to exercise the matcher without a camera.
package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/matching"
)

var ErrExhausted = errors.New("no recorded features left")

// Replay returns one queued feature list per Detect call, ignoring the frame
// pixels. With looping enabled it cycles through the queue forever.
type Replay struct {
	mu     sync.Mutex
	queue  [][]matching.QueryFeature
	next   int
	loop   bool
	served int
}

// NewReplay creates a replay detector with the given frames queued.
func NewReplay(frames ...[]matching.QueryFeature) *Replay {
	r := &Replay{}
	for _, f := range frames {
		r.Push(f)
	}
	return r
}

// Push queues the features for a future Detect call.
func (r *Replay) Push(features []matching.QueryFeature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, features)
}

// Reset drops every queued feature list.
func (r *Replay) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = nil
	r.next = 0
}

// Pending returns how many feature lists are queued and not yet served.
// With looping enabled it returns the queue length.
func (r *Replay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// SetLoop enables cycling through the queue instead of consuming it.
// Turning looping off continues after the last list served in the current
// cycle; lists before it are dropped.
func (r *Replay) SetLoop(loop bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loop && !loop {
		r.queue = r.queue[min(r.next, len(r.queue)):]
		r.next = 0
	}
	r.loop = loop
}

// Served returns how many feature lists Detect has returned.
func (r *Replay) Served() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.served
}

// Detect returns a copy of the next queued feature list.
func (r *Replay) Detect(ctx context.Context, _ matching.Frame) ([]matching.QueryFeature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.queue) {
		if !r.loop || len(r.queue) == 0 {
			return nil, ErrExhausted
		}
		r.next = 0
	}

	var features []matching.QueryFeature
	if r.loop {
		features = r.queue[r.next]
		r.next++
	} else {
		// next stays 0 outside loop mode
		features = r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
	}
	r.served++
	return slices.Clone(features), nil
}

// Recording is a file of detector output for a sequence of frames.
type Recording struct {
	Width  int             `json:"width"`
	Height int             `json:"height"`
	Format string          `json:"format"`
	Frames []RecordedFrame `json:"frames"`
}

type RecordedFrame struct {
	Name     string            `json:"name,omitempty"`
	PageID   *int              `json:"page_id,omitempty"` // expected page, if known
	Features []RecordedFeature `json:"features"`
}

type RecordedFeature struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Polarity   int       `json:"polarity"`
	Descriptor []float32 `json:"descriptor"`
}

// LoadRecording reads a recording from a JSON file.
func LoadRecording(path string) (*Recording, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	var rec Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recording: %w", err)
	}
	if _, err := rec.PixelFormat(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save writes the recording as indented JSON.
func (r *Recording) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal recording: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	return nil
}

// PixelFormat parses the recorded frame format. An empty format means MONO.
func (r *Recording) PixelFormat() (matching.PixelFormat, error) {
	if r.Format == "" {
		return matching.PixelFormatMono, nil
	}
	return matching.ParsePixelFormat(r.Format)
}

// Add appends a frame of features.
func (r *Recording) Add(name string, pageID *int, features []matching.QueryFeature) {
	frame := RecordedFrame{Name: name, PageID: pageID, Features: make([]RecordedFeature, len(features))}
	for i, f := range features {
		frame.Features[i] = RecordedFeature{X: f.Pos.X, Y: f.Pos.Y, Polarity: int(f.Polarity), Descriptor: f.Descriptor}
	}
	r.Frames = append(r.Frames, frame)
}

// Features converts frame i back to query features.
func (r *Recording) Features(i int) []matching.QueryFeature {
	frame := r.Frames[i]
	out := make([]matching.QueryFeature, len(frame.Features))
	for j, f := range frame.Features {
		out[j] = f.QueryFeature()
	}
	return out
}

// QueryFeature converts the recorded feature to the matcher's type.
func (f RecordedFeature) QueryFeature() matching.QueryFeature {
	return matching.QueryFeature{
		Pos:        r2.Vec{X: f.X, Y: f.Y},
		Descriptor: f.Descriptor,
		Polarity:   catalog.Polarity(f.Polarity),
	}
}

// Replay returns a detector that serves the recorded frames in order.
func (r *Recording) Replay() *Replay {
	rep := NewReplay()
	for i := range r.Frames {
		rep.Push(r.Features(i))
	}
	return rep
}

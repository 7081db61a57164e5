package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/config"
	"github.com/kozaktomas/pagefinder/internal/detector"
	"github.com/kozaktomas/pagefinder/internal/initializer"
	"github.com/kozaktomas/pagefinder/internal/matching"
	"github.com/kozaktomas/pagefinder/internal/worker"
)

var testFrame = worker.FrameSpec{Width: 640, Height: 480, Format: matching.PixelFormatMono}

const testFrameSize = 640 * 480

// testCatalog creates a small synthetic catalog with pages 1..3
func testCatalog(t *testing.T, seed uint64) *catalog.Catalog {
	t.Helper()
	opts := detector.DefaultCatalogOptions()
	opts.Pages = 3
	opts.Seed = seed
	c, err := detector.SynthCatalog(opts, nil)
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	return c
}

// newTestInitializer creates an initializer closed at test cleanup
func newTestInitializer(t *testing.T, c *catalog.Catalog, det matching.Detector) *initializer.Initializer {
	t.Helper()
	cfg := config.Defaults()
	cfg.Ransac.Seed = 7
	in, err := initializer.New(c, det, testFrame, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to create initializer: %v", err)
	}
	t.Cleanup(in.Close)
	return in
}

// frameRequest renders page pageID and returns the features as a request body
func frameRequest(t *testing.T, c *catalog.Catalog, pageID int, skip ...int) SubmitFrameRequest {
	t.Helper()
	s, err := detector.NewScene(rand.New(rand.NewPCG(uint64(pageID)+1, 99)), c, pageID, detector.DefaultSceneOptions())
	if err != nil {
		t.Fatalf("failed to render scene: %v", err)
	}
	var rec detector.Recording
	rec.Add("", nil, s.Features)
	return SubmitFrameRequest{SkipPages: skip, Features: rec.Frames[0].Features}
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rec.Body.String(), err)
	}
	return v
}

// blockingDetector holds every Detect call until release is closed
func blockingDetector(started chan<- struct{}, release <-chan struct{}) matching.Detector {
	return matching.DetectorFunc(func(context.Context, matching.Frame) ([]matching.QueryFeature, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	})
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

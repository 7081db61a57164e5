package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/detector"
)

func nativeBody(t *testing.T, c *catalog.Catalog) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := catalog.WriteNative(&buf, c); err != nil {
		t.Fatalf("failed to encode catalog: %v", err)
	}
	return &buf
}

func TestCatalogHandler_Get(t *testing.T) {
	c := testCatalog(t, 1)
	in := newTestInitializer(t, c, detector.NewReplay())
	h := NewCatalogHandler(in, zaptest.NewLogger(t))

	rec := serve(h.Get, httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	stats := decode[catalog.Stats](t, rec)
	if stats.Pages != 3 || stats.Features != c.Len() || stats.Dim != c.Dim() {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestCatalogHandler_Replace(t *testing.T) {
	c := testCatalog(t, 1)
	in := newTestInitializer(t, c, detector.NewReplay())
	h := NewCatalogHandler(in, zaptest.NewLogger(t))

	opts := detector.DefaultCatalogOptions()
	opts.Pages = 5
	opts.Seed = 2
	next, err := detector.SynthCatalog(opts, nil)
	if err != nil {
		t.Fatal(err)
	}

	rec := serve(h.Replace, httptest.NewRequest(http.MethodPut, "/api/v1/catalog", nativeBody(t, next)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if stats := decode[catalog.Stats](t, rec); stats.Pages != 5 {
		t.Errorf("expected 5 pages in response, got %d", stats.Pages)
	}
	if got := in.Catalog().NumPages(); got != 5 {
		t.Errorf("expected initializer to hold 5 pages, got %d", got)
	}
}

func TestCatalogHandler_ReplaceInvalidBody(t *testing.T) {
	c := testCatalog(t, 1)
	in := newTestInitializer(t, c, detector.NewReplay())
	h := NewCatalogHandler(in, zaptest.NewLogger(t))

	rec := serve(h.Replace, httptest.NewRequest(http.MethodPut, "/api/v1/catalog", strings.NewReader("not a catalog")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
	if got := in.Catalog().NumPages(); got != 3 {
		t.Errorf("expected the original catalog to stay, got %d pages", got)
	}
}

func TestCatalogHandler_ReplaceBusy(t *testing.T) {
	c := testCatalog(t, 1)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	in := newTestInitializer(t, c, blockingDetector(started, release))
	h := NewCatalogHandler(in, zaptest.NewLogger(t))

	if _, err := in.Submit(make([]byte, testFrameSize)); err != nil {
		t.Fatal(err)
	}
	<-started
	defer close(release)

	rec := serve(h.Replace, httptest.NewRequest(http.MethodPut, "/api/v1/catalog", nativeBody(t, testCatalog(t, 2))))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rec.Code)
	}
}

func TestCatalogHandler_ReplaceClosed(t *testing.T) {
	c := testCatalog(t, 1)
	in := newTestInitializer(t, c, detector.NewReplay())
	h := NewCatalogHandler(in, zaptest.NewLogger(t))
	in.Close()

	rec := serve(h.Replace, httptest.NewRequest(http.MethodPut, "/api/v1/catalog", nativeBody(t, testCatalog(t, 2))))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
}

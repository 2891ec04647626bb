package detect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/media"
)

func testClassMap(t *testing.T) *common.ClassMap {
	t.Helper()
	cm, err := common.LoadClassMap("")
	if err != nil {
		t.Fatalf("LoadClassMap failed: %v", err)
	}
	return cm
}

func newTestDetector(t *testing.T, endpoint string, minConfidence float64, maxRetries int) *HTTPDetector {
	t.Helper()
	d, err := NewHTTPDetector(&common.DetectorConfig{
		Endpoint:      endpoint,
		MinConfidence: minConfidence,
		MaxRetries:    maxRetries,
	}, testClassMap(t), arbor.NewLogger())
	if err != nil {
		t.Fatalf("NewHTTPDetector failed: %v", err)
	}
	return d
}

func TestHTTPDetector_RequiresEndpoint(t *testing.T) {
	_, err := NewHTTPDetector(&common.DetectorConfig{}, testClassMap(t), arbor.NewLogger())
	if err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestHTTPDetector_Detect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/predict" {
			t.Errorf("Expected /predict, got %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("Expected image/jpeg content type, got %s", ct)
		}
		w.Write([]byte(`{"detections":[
			{"box":[10,20,110,220],"class_id":0,"confidence":0.9},
			{"box":[5,5,50,50],"class_id":2,"confidence":0.1}
		]}`))
	}))
	defer srv.Close()

	d := newTestDetector(t, srv.URL, 0.5, 0)
	defer d.Close()

	detections, err := d.Detect(context.Background(), media.NewFrame(320, 240))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// Low-confidence detection is filtered out
	if len(detections) != 1 {
		t.Fatalf("Expected 1 detection above threshold, got %d", len(detections))
	}

	got := detections[0]
	if got.X1 != 10 || got.Y1 != 20 || got.X2 != 110 || got.Y2 != 220 {
		t.Errorf("Expected box (10,20,110,220), got (%d,%d,%d,%d)", got.X1, got.Y1, got.X2, got.Y2)
	}
	if got.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %f", got.Confidence)
	}
	if got.Label != "class_0" {
		t.Errorf("Expected fallback label class_0, got %s", got.Label)
	}
}

func TestHTTPDetector_SkipsMalformedBoxes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"detections":[
			{"box":[1,2,3],"class_id":0,"confidence":0.9},
			{"box":[1,2,3,4],"class_id":1,"confidence":0.9}
		]}`))
	}))
	defer srv.Close()

	d := newTestDetector(t, srv.URL, 0.5, 0)
	defer d.Close()

	detections, err := d.Detect(context.Background(), media.NewFrame(64, 64))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(detections) != 1 {
		t.Errorf("Expected malformed box dropped, got %d detections", len(detections))
	}
}

func TestHTTPDetector_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"detections":[]}`))
	}))
	defer srv.Close()

	d := newTestDetector(t, srv.URL, 0.5, 2)
	defer d.Close()

	if _, err := d.Detect(context.Background(), media.NewFrame(64, 64)); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected 2 requests, got %d", got)
	}
}

func TestHTTPDetector_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	d := newTestDetector(t, srv.URL, 0.5, 3)
	defer d.Close()

	if _, err := d.Detect(context.Background(), media.NewFrame(64, 64)); err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected a single request for a client error, got %d", got)
	}
}

func TestHTTPDetector_RejectsInvalidFrame(t *testing.T) {
	d := newTestDetector(t, "http://localhost:1", 0.5, 0)
	defer d.Close()

	bad := &media.Frame{Width: 10, Height: 10, Pix: []byte{1, 2, 3}}
	if _, err := d.Detect(context.Background(), bad); err == nil {
		t.Error("Expected error for invalid frame buffer")
	}
}

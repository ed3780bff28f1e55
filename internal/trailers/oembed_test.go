package trailers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newProbeServer(t *testing.T, handler http.HandlerFunc) *OEmbedProber {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	prober, err := NewOEmbedProber(server.URL, server.Client())
	if err != nil {
		t.Fatalf("NewOEmbedProber failed: %v", err)
	}
	return prober
}

func TestOEmbedProbeSuccess(t *testing.T) {
	prober := newProbeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("url"); got != "https://www.youtube.com/watch?v=abc" {
			t.Errorf("unexpected probe url %q", got)
		}
		if r.URL.Query().Get("format") != "json" {
			t.Error("format=json missing")
		}
		w.Write([]byte(`{"title":"Official Trailer","thumbnail_url":"https://img.test/abc.jpg"}`))
	})

	result, err := prober.Probe(context.Background(), "https://www.youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.Title != "Official Trailer" || result.ThumbnailURL != "https://img.test/abc.jpg" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestOEmbedProbeUnavailable(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		prober := newProbeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		_, err := prober.Probe(context.Background(), "https://www.youtube.com/watch?v=gone")
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("status %d: expected ErrUnavailable, got %v", status, err)
		}
	}
}

func TestOEmbedProbeRateLimited(t *testing.T) {
	prober := newProbeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := prober.Probe(context.Background(), "https://www.youtube.com/watch?v=abc")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestOEmbedProbeServerErrorIsNeither(t *testing.T) {
	prober := newProbeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := prober.Probe(context.Background(), "https://www.youtube.com/watch?v=abc")
	if err == nil || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited) {
		t.Fatalf("5xx should be an unclassified error, got %v", err)
	}
}

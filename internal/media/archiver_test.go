package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vincent-petithory/dataurl"

	"smsrelay/internal/apperr"
	"smsrelay/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return "https://cdn.example.com/" + key, nil
}

func pngOfWidth(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png failed: %v", err)
	}
	return buf.Bytes()
}

func TestPrepareOutboundPassesThroughURLs(t *testing.T) {
	a := NewArchiver(Options{})
	urls, kinds, err := a.PrepareOutbound(context.Background(), "u1", "+15551112222", []string{
		"https://example.com/cat.jpg",
		"https://example.com/dog.jpg",
	})
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("expected 2 urls, got %v", urls)
	}
	if kinds["image/jpeg"] != "https://example.com/cat.jpg" || kinds["image/jpeg#1"] != "https://example.com/dog.jpg" {
		t.Fatalf("unexpected media map %v", kinds)
	}
}

func TestPrepareOutboundRejectsBadReferences(t *testing.T) {
	a := NewArchiver(Options{})
	if _, _, err := a.PrepareOutbound(context.Background(), "u1", "+1555", []string{"ftp://example.com/x"}); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	du := dataurl.New([]byte("hello"), "text/plain").String()
	if _, _, err := a.PrepareOutbound(context.Background(), "u1", "+1555", []string{du}); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected invalid request without a store, got %v", err)
	}
}

func TestPrepareOutboundUploadsAndDownscalesDataURL(t *testing.T) {
	store := newMemStore()
	a := NewArchiver(Options{Store: store, MaxImageWidth: 100})
	a.now = func() time.Time { return time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC) }

	du := dataurl.New(pngOfWidth(t, 400, 200), "image/png").String()
	urls, kinds, err := a.PrepareOutbound(context.Background(), "u1", "+15551112222", []string{du})
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if len(urls) != 1 || !strings.HasPrefix(urls[0], "https://cdn.example.com/users/u1/outbox/15551112222/2026/03/04/images/") {
		t.Fatalf("unexpected url %v", urls)
	}
	if kinds["image/png"] != urls[0] {
		t.Fatalf("unexpected media map %v", kinds)
	}

	for _, data := range store.objects {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("stored object is not an image: %v", err)
		}
		if cfg.Width != 100 || cfg.Height != 50 {
			t.Fatalf("expected 100x50, got %dx%d", cfg.Width, cfg.Height)
		}
	}
}

func TestArchiveInboundCopiesMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpegdata"))
	}))
	defer srv.Close()

	store := newMemStore()
	a := NewArchiver(Options{Store: store, DownloadTimeout: time.Second})
	msg := &models.Message{
		ResourceID: models.Ptr("MM1"),
		From:       models.Ptr("+15553334444"),
		Media:      models.MediaMap{"image/jpeg": srv.URL + "/ok", "image/png": srv.URL + "/missing"},
	}

	var logs bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&logs)
	defer func() { log.Logger = prev }()

	out := a.ArchiveInbound(context.Background(), msg)
	if !strings.Contains(out["image/jpeg"], "/users/unassigned/inbox/15553334444/") {
		t.Fatalf("expected archived url, got %q", out["image/jpeg"])
	}
	if out["image/png"] != srv.URL+"/missing" {
		t.Fatalf("failed download should keep provider url, got %q", out["image/png"])
	}
	if len(store.objects) != 1 {
		t.Fatalf("expected one stored object, got %d", len(store.objects))
	}
	if !strings.Contains(logs.String(), `"resourceID":"MM1"`) {
		t.Fatalf("expected failed download to be logged with the resource id, got %s", logs.String())
	}
}

func TestObjectKeyAndPublicURL(t *testing.T) {
	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if got := ObjectKey("u1", "+1 555", "id", "video/mp4", true, at); got != "users/u1/inbox/1555/2026/01/02/videos/id.mp4" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := publicURL("", "", "eu-west-1", "media", "k", false); got != "https://media.s3.eu-west-1.amazonaws.com/k" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := publicURL("", "http://minio:9000", "us-east-1", "media", "k", true); got != "http://minio:9000/media/k" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := publicURL("https://cdn.example.com/", "", "", "media", "k", false); got != "https://cdn.example.com/media/k" {
		t.Fatalf("unexpected url %q", got)
	}
}

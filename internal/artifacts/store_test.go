package artifacts

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref string
		id  string
		ok  bool
	}{
		{"artifact:abc-123", "abc-123", true},
		{"artifact:", "", false},
		{"abc-123", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		id, ok := ParseRef(tt.ref)
		if id != tt.id || ok != tt.ok {
			t.Errorf("ParseRef(%q) = (%q, %v), want (%q, %v)", tt.ref, id, ok, tt.id, tt.ok)
		}
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	content := []byte("the quick brown fox")
	ref, meta, err := s.Put(ctx, content, PutOptions{
		Name: "notes.txt", MimeType: "text/plain", Type: "text", CreatedBy: "agent-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if meta.Ref() != ref || meta.Size != int64(len(content)) {
		t.Errorf("meta = %+v, ref = %s", meta, ref)
	}

	data, got, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("blob = %q", data)
	}
	if got.Name != "notes.txt" || got.Type != "text" || got.CreatedBy != "agent-1" {
		t.Errorf("restored meta = %+v", got)
	}
}

func TestGetUnknownArtifact(t *testing.T) {
	s := openTestStore(t)
	if _, _, err := s.Get(context.Background(), "artifact:no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if _, _, err := s.Get(context.Background(), "garbage-ref"); err == nil {
		t.Error("invalid reference accepted")
	}
}

func TestImageArtifactGetsThumbnail(t *testing.T) {
	s := openTestStore(t)

	img := image.NewRGBA(image.Rect(0, 0, 600, 400))
	for x := 0; x < 600; x++ {
		for y := 0; y < 400; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	_, meta, err := s.Put(context.Background(), buf.Bytes(), PutOptions{
		Name: "chart.png", MimeType: "image/png", Type: "image",
	})
	if err != nil {
		t.Fatal(err)
	}
	if meta.ThumbPath == "" {
		t.Error("image artifact stored without a thumbnail")
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, _, err := s.Put(ctx, []byte("a"), PutOptions{Name: "first"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Put(ctx, []byte("b"), PutOptions{Name: "second"}); err != nil {
		t.Fatal(err)
	}

	metas, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 {
		t.Fatalf("len = %d", len(metas))
	}
	if metas[0].Name != "second" {
		t.Errorf("order = [%s, %s], want newest first", metas[0].Name, metas[1].Name)
	}
}

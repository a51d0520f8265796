package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeMediaFile(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestResolveInsideRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	abs := writeMediaFile(t, root, "inbox/a.jpg", "jpegdata")
	if err := os.MkdirAll(filepath.Join(root, "somedir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "relative inside root", path: "inbox/a.jpg"},
		{name: "absolute inside root", path: abs},
		{name: "empty", path: "", wantErr: true},
		{name: "parent reference", path: "../a.jpg", wantErr: true},
		{name: "hidden parent reference", path: "inbox/../../a.jpg", wantErr: true},
		{name: "absolute outside root", path: "/etc/passwd", wantErr: true},
		{name: "directory", path: "somedir", wantErr: true},
		{name: "missing file", path: "inbox/nope.jpg", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, size, err := resolveInsideRoot(root, tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("resolveInsideRoot(%q) succeeded, want error", tt.path)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveInsideRoot(%q) error = %v", tt.path, err)
			}
			if got != abs {
				t.Fatalf("path = %q, want %q", got, abs)
			}
			if size != int64(len("jpegdata")) {
				t.Fatalf("size = %d, want %d", size, len("jpegdata"))
			}
		})
	}
}

func mediaTestEngine(t *testing.T, root string, describe func(ctx context.Context, path string) (string, error)) *Engine {
	t.Helper()
	eng, err := New(Options{
		URL:       "tcp://127.0.0.1:1",
		MediaRoot: root,
	}, Dependencies{DescribeImage: describe})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return eng
}

func TestEnrichMedia_AppendsAnnotation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	abs := writeMediaFile(t, root, "inbox/a.jpg", "jpegdata")
	eng := mediaTestEngine(t, root, func(ctx context.Context, path string) (string, error) {
		if path != abs {
			t.Errorf("describer got path %q, want %q", path, abs)
		}
		return "a cat on a sofa", nil
	})

	ev := &InboundEvent{Text: "look", Media: &MediaRef{Kind: MediaKindImage, Path: "inbox/a.jpg"}}
	eng.enrichMedia(context.Background(), ev)

	if ev.Text != "look\n[image: a cat on a sofa]" {
		t.Fatalf("Text = %q", ev.Text)
	}
	if ev.Media.Description != "a cat on a sofa" {
		t.Fatalf("Description = %q", ev.Media.Description)
	}
	if ev.Media.Path != abs {
		t.Fatalf("Path = %q, want absolute %q", ev.Media.Path, abs)
	}
	if ev.Media.Bytes != int64(len("jpegdata")) {
		t.Fatalf("Bytes = %d, want %d", ev.Media.Bytes, len("jpegdata"))
	}
}

func TestEnrichMedia_EmptyTextBecomesAnnotation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMediaFile(t, root, "a.jpg", "x")
	eng := mediaTestEngine(t, root, func(ctx context.Context, path string) (string, error) {
		return "sunset", nil
	})

	ev := &InboundEvent{Media: &MediaRef{Kind: MediaKindImage, Path: "a.jpg"}}
	eng.enrichMedia(context.Background(), ev)
	if ev.Text != "[image: sunset]" {
		t.Fatalf("Text = %q, want %q", ev.Text, "[image: sunset]")
	}
}

func TestEnrichMedia_RejectedPathLeavesEventUntouched(t *testing.T) {
	t.Parallel()

	called := false
	eng := mediaTestEngine(t, t.TempDir(), func(ctx context.Context, path string) (string, error) {
		called = true
		return "nope", nil
	})

	ev := &InboundEvent{Text: "look", Media: &MediaRef{Kind: MediaKindImage, Path: "../../etc/passwd"}}
	eng.enrichMedia(context.Background(), ev)

	if called {
		t.Fatalf("describer was called for a rejected path")
	}
	if ev.Text != "look" || ev.Media.Path != "../../etc/passwd" || ev.Media.Bytes != 0 {
		t.Fatalf("event was modified: %+v", ev.Media)
	}
}

func TestEnrichMedia_TooLargeRecordsPathButSkipsDescribe(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	abs := writeMediaFile(t, root, "big.jpg", "0123456789")
	called := false
	eng, err := New(Options{
		URL:              "tcp://127.0.0.1:1",
		MediaRoot:        root,
		DescribeMaxBytes: 4,
	}, Dependencies{DescribeImage: func(ctx context.Context, path string) (string, error) {
		called = true
		return "big", nil
	}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ev := &InboundEvent{Text: "look", Media: &MediaRef{Kind: MediaKindImage, Path: "big.jpg"}}
	eng.enrichMedia(context.Background(), ev)

	if called {
		t.Fatalf("describer was called for a file over the size cap")
	}
	if ev.Media.Path != abs || ev.Media.Bytes != 10 {
		t.Fatalf("path/size not recorded: %+v", ev.Media)
	}
	if ev.Text != "look" {
		t.Fatalf("Text = %q, want unchanged", ev.Text)
	}
}

func TestEnrichMedia_DescribeFailureKeepsEvent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	abs := writeMediaFile(t, root, "a.jpg", "x")
	eng := mediaTestEngine(t, root, func(ctx context.Context, path string) (string, error) {
		return "", errors.New("model offline")
	})

	ev := &InboundEvent{Text: "look", Media: &MediaRef{Kind: MediaKindImage, Path: "a.jpg"}}
	eng.enrichMedia(context.Background(), ev)

	if ev.Text != "look" {
		t.Fatalf("Text = %q, want unchanged", ev.Text)
	}
	if ev.Media.Path != abs {
		t.Fatalf("Path = %q, want %q recorded despite the failure", ev.Media.Path, abs)
	}
}

func TestEnrichMedia_DuplicateAnnotationNotAppended(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMediaFile(t, root, "a.jpg", "x")
	eng := mediaTestEngine(t, root, func(ctx context.Context, path string) (string, error) {
		return "a cat", nil
	})

	ev := &InboundEvent{Text: "look\n[image: a cat]", Media: &MediaRef{Kind: MediaKindImage, Path: "a.jpg"}}
	eng.enrichMedia(context.Background(), ev)

	if strings.Count(ev.Text, "[image: a cat]") != 1 {
		t.Fatalf("annotation duplicated: %q", ev.Text)
	}
}

func TestEnrichMedia_SkipsNonImageAndUnconfigured(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMediaFile(t, root, "v.mp4", "x")
	called := false
	eng := mediaTestEngine(t, root, func(ctx context.Context, path string) (string, error) {
		called = true
		return "clip", nil
	})

	video := &InboundEvent{Text: "vid", Media: &MediaRef{Kind: MediaKindVideo, Path: "v.mp4"}}
	eng.enrichMedia(context.Background(), video)
	if called || video.Text != "vid" {
		t.Fatalf("video media was enriched")
	}

	noRoot := mediaTestEngine(t, "", func(ctx context.Context, path string) (string, error) {
		called = true
		return "pic", nil
	})
	img := &InboundEvent{Text: "pic", Media: &MediaRef{Kind: MediaKindImage, Path: "a.jpg"}}
	noRoot.enrichMedia(context.Background(), img)
	if called || img.Text != "pic" {
		t.Fatalf("media was enriched without a storage root")
	}
}

package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	MediaKindImage    = "image"
	MediaKindVideo    = "video"
	MediaKindAudio    = "audio"
	MediaKindDocument = "document"
	MediaKindSticker  = "sticker"
)

// enrichMedia asks the configured describer for a caption of image media
// and appends it to the event text. Failures never block the event: a
// rejected path passes the event through untouched, and any later failure
// still leaves the validated absolute path and size recorded.
func (e *Engine) enrichMedia(ctx context.Context, ev *InboundEvent) {
	if ev.Media == nil || ev.Media.Kind != MediaKindImage {
		return
	}
	if e.deps.DescribeImage == nil || e.opts.MediaRoot == "" {
		return
	}

	abs, size, err := resolveInsideRoot(e.opts.MediaRoot, ev.Media.Path)
	if err != nil {
		e.log.Warn("media_path_rejected", "chat_jid", ev.ChatJID, "message_id", ev.MessageID, "error", err)
		return
	}
	ev.Media.Path = abs
	ev.Media.Bytes = size

	if e.opts.DescribeMaxBytes > 0 && size > e.opts.DescribeMaxBytes {
		e.log.Debug("media_describe_skipped", "reason", "too_large", "bytes", size, "max_bytes", e.opts.DescribeMaxBytes)
		return
	}

	desc, err := describeImageFromDeps(e.deps, ctx, abs)
	if err != nil {
		e.log.Warn("media_describe_failed", "path", abs, "error", err)
		return
	}
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return
	}

	ev.Media.Description = desc
	annotation := "[image: " + desc + "]"
	if strings.Contains(ev.Text, annotation) {
		return
	}
	if ev.Text == "" {
		ev.Text = annotation
	} else {
		ev.Text += "\n" + annotation
	}
}

// resolveInsideRoot validates that path names an existing regular file
// inside root and returns its absolute path and size. Paths containing a
// parent reference are rejected outright.
func resolveInsideRoot(root, path string) (string, int64, error) {
	if strings.TrimSpace(path) == "" {
		return "", 0, fmt.Errorf("empty media path")
	}
	if strings.Contains(path, "..") {
		return "", 0, fmt.Errorf("media path %q contains a parent reference", path)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", 0, fmt.Errorf("resolve storage root: %w", err)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(absRoot, abs)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", 0, fmt.Errorf("media path %q resolves outside the storage root", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", 0, err
	}
	if info.IsDir() {
		return "", 0, fmt.Errorf("media path %q is a directory", path)
	}
	return abs, info.Size(), nil
}

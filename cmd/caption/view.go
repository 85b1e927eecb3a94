package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dj-oyu/vision-console/internal/caption"
	"github.com/dj-oyu/vision-console/internal/logger"
)

// termView renders the upload page on a terminal. When outDir is set the
// returned image is written there.
type termView struct {
	mu     sync.Mutex
	out    io.Writer
	outDir string
	name   string // base name of the current selection

	triggerEnabled bool
	loading        bool
	lastSaved      string
}

func newTermView(out io.Writer, outDir string) *termView {
	return &termView{out: out, outDir: outDir}
}

func (v *termView) printf(format string, args ...any) {
	fmt.Fprintf(v.out, format+"\n", args...)
}

func (v *termView) ShowPreview(src string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	contentType, data, err := caption.DecodeDataURL(src)
	if err != nil {
		v.printf("preview: unreadable (%v)", err)
		return
	}
	v.printf("preview: %s, %d bytes", contentType, len(data))
}

func (v *termView) SetTriggerEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.triggerEnabled = enabled
}

func (v *termView) SetLoading(loading bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if loading && !v.loading {
		v.printf("analyzing...")
	}
	v.loading = loading
}

func (v *termView) ShowResult(text, image string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.printf("caption: %s", text)
	if v.outDir == "" || image == "" {
		return
	}
	path, err := v.saveImage(image)
	if err != nil {
		v.printf("could not save image: %v", err)
		return
	}
	v.lastSaved = path
	v.printf("image saved to %s", path)
}

func (v *termView) ShowError(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.printf("%s", msg)
}

func (v *termView) HideResult() {}

func (v *termView) HideError() {}

func (v *termView) setSelection(path string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func (v *termView) saveImage(image string) (string, error) {
	contentType, data, err := caption.DecodeDataURL(image)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(v.outDir, 0755); err != nil {
		return "", err
	}
	name := v.name
	if name == "" {
		name = "result"
	}
	path := filepath.Join(v.outDir, name+"_captioned"+caption.ExtensionFor(contentType))
	if err := os.WriteFile(path, data, 0644); err != nil {
		logger.Warn("Caption", "Failed to write %s: %v", path, err)
		return "", err
	}
	return path, nil
}

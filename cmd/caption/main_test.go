package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/vision-console/internal/caption"
	"github.com/dj-oyu/vision-console/internal/metrics"
)

func writePNG(t *testing.T, dir, name string) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path, buf.Bytes()
}

func captionServer(t *testing.T, img []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"caption":"a tiny square","image":"` +
			base64.StdEncoding.EncodeToString(img) + `","original_filename":"in.png"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTermViewSavesResultImage(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	v := newTermView(&out, dir)
	v.setSelection("/photos/cat.png")

	v.ShowResult("a cat", caption.EncodeDataURL("image/jpeg", []byte{0xFF, 0xD8}))

	want := filepath.Join(dir, "cat_captioned.jpg")
	assert.Equal(t, want, v.lastSaved)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data)
	assert.Contains(t, out.String(), "caption: a cat")
}

func TestTermViewWithoutOutDir(t *testing.T) {
	var out bytes.Buffer
	v := newTermView(&out, "")

	v.ShowPreview(caption.EncodeDataURL("image/png", []byte("abc")))
	v.ShowResult("a dog", "not base64!")
	v.ShowError("error analyzing image: boom")

	assert.Empty(t, v.lastSaved)
	assert.Contains(t, out.String(), "preview: image/png, 3 bytes")
	assert.Contains(t, out.String(), "caption: a dog")
	assert.Contains(t, out.String(), "error analyzing image: boom")
}

func TestREPL(t *testing.T) {
	dir := t.TempDir()
	path, img := writePNG(t, dir, "square.png")
	server := captionServer(t, img)

	var out bytes.Buffer
	view := newTermView(&out, filepath.Join(dir, "out"))
	flow := caption.NewFlow(caption.NewClient(server.URL), view, caption.DefaultMaxBytes)

	input := strings.Join([]string{
		"open",
		"frobnicate",
		"open " + path,
		"analyze",
		"quit",
		"analyze",
	}, "\n")
	repl(context.Background(), flow, view, strings.NewReader(input))

	got := out.String()
	assert.Contains(t, got, "usage: open <path>")
	assert.Contains(t, got, `unknown command "frobnicate"`)
	assert.Contains(t, got, "caption: a tiny square")

	saved, err := os.ReadFile(filepath.Join(dir, "out", "square_captioned.png"))
	require.NoError(t, err)
	assert.Equal(t, img, saved)
}

func TestREPLAnalyzeWithoutSelection(t *testing.T) {
	var out bytes.Buffer
	view := newTermView(&out, "")
	flow := caption.NewFlow(caption.NewClient("http://127.0.0.1:1/upload"), view, caption.DefaultMaxBytes)

	repl(context.Background(), flow, view, strings.NewReader("analyze\n"))

	assert.Contains(t, out.String(), caption.ErrNoSelection.Error())
}

func TestREPLRejectsNonImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	var out bytes.Buffer
	view := newTermView(&out, "")
	flow := caption.NewFlow(caption.NewClient("http://127.0.0.1:1/upload"), view, caption.DefaultMaxBytes)

	repl(context.Background(), flow, view, strings.NewReader("open "+path+"\n"))

	_, ok := flow.Selected()
	assert.False(t, ok)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2, "banner plus one error line: %q", out.String())
	assert.Contains(t, lines[1], "image")
}

func TestAnalyzeOnce(t *testing.T) {
	dir := t.TempDir()
	path, img := writePNG(t, dir, "square.png")
	server := captionServer(t, img)

	m := metrics.New()
	var out bytes.Buffer
	view := newTermView(&out, "")
	flow := caption.NewFlow(caption.NewClient(server.URL, caption.WithMetrics(m)), view, caption.DefaultMaxBytes)

	assert.True(t, analyzeOnce(context.Background(), flow, view, path))
	assert.False(t, analyzeOnce(context.Background(), flow, view, filepath.Join(dir, "missing.png")))
	assert.Contains(t, out.String(), "caption: a tiny square")
	assert.Contains(t, uploadSummary(m), "Uploads: 1 ok, 0 failed")
}

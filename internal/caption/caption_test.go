package caption

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/vision-console/internal/metrics"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// recordingView logs every call in order and tracks the visible state.
type recordingView struct {
	mu       sync.Mutex
	events   []string
	trigger  bool
	loading  bool
	caption  string
	imageSrc string
	errMsg   string
}

func (v *recordingView) record(format string, args ...interface{}) {
	v.events = append(v.events, fmt.Sprintf(format, args...))
}

func (v *recordingView) ShowPreview(src string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.imageSrc = src
	v.record("preview")
}

func (v *recordingView) SetTriggerEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.trigger = enabled
	v.record("trigger:%t", enabled)
}

func (v *recordingView) SetLoading(loading bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loading = loading
	v.record("loading:%t", loading)
}

func (v *recordingView) ShowResult(caption, image string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.caption = caption
	v.imageSrc = image
	v.record("result")
}

func (v *recordingView) ShowError(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errMsg = msg
	v.record("error")
}

func (v *recordingView) HideResult() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.record("hideResult")
}

func (v *recordingView) HideError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errMsg = ""
	v.record("hideError")
}

func (v *recordingView) snapshot() (trigger, loading bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.trigger, v.loading
}

func (v *recordingView) count(event string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, e := range v.events {
		if e == event {
			n++
		}
	}
	return n
}

func (v *recordingView) indexOf(event string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, e := range v.events {
		if e == event {
			return i
		}
	}
	return -1
}

type uploaderFunc func(ctx context.Context, sel Selection) (*Result, error)

func (f uploaderFunc) Upload(ctx context.Context, sel Selection) (*Result, error) {
	return f(ctx, sel)
}

func TestClientUpload(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    bool
		wantKind   ErrorKind
		wantStatus int
		want       *Result
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"success":true,"caption":"a cat","image":"data:image/png;base64,XXXX","original_filename":"cat.png"}`,
			want:   &Result{Caption: "a cat", Image: "data:image/png;base64,XXXX", Filename: "cat.png"},
		},
		{
			name:   "success without flag",
			status: http.StatusOK,
			body:   `{"caption":"a dog","image":"data:image/jpeg;base64,YYYY"}`,
			want:   &Result{Caption: "a dog", Image: "data:image/jpeg;base64,YYYY"},
		},
		{
			name:       "server error",
			status:     http.StatusServiceUnavailable,
			body:       `{"detail":"ML service unavailable"}`,
			wantErr:    true,
			wantKind:   KindTransport,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:     "malformed json",
			status:   http.StatusOK,
			body:     `<html>`,
			wantErr:  true,
			wantKind: KindProtocol,
		},
		{
			name:     "missing caption",
			status:   http.StatusOK,
			body:     `{"image":"data:image/png;base64,XXXX"}`,
			wantErr:  true,
			wantKind: KindProtocol,
		},
		{
			name:     "reported failure",
			status:   http.StatusOK,
			body:     `{"success":false,"caption":""}`,
			wantErr:  true,
			wantKind: KindProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			sel, err := NewSelection("cat.png", pngBytes(t), DefaultMaxBytes)
			require.NoError(t, err)

			res, err := NewClient(server.URL).Upload(context.Background(), sel)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsKind(err, tt.wantKind), "kind of %v", err)
				var cerr *Error
				require.ErrorAs(t, err, &cerr)
				assert.Equal(t, tt.wantStatus, cerr.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
		})
	}
}

func TestClientSendsMultipartFilePart(t *testing.T) {
	data := pngBytes(t)
	var gotName, gotType, gotRequestID string
	var gotData []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotRequestID = r.Header.Get(RequestIDHeader)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile(FormField)
		require.NoError(t, err)
		defer file.Close()
		gotName = header.Filename
		gotType = header.Header.Get("Content-Type")
		gotData, _ = io.ReadAll(file)

		_, _ = io.WriteString(w, `{"caption":"ok","image":""}`)
	}))
	defer server.Close()

	sel, err := NewSelection("/tmp/photos/cat.png", data, DefaultMaxBytes)
	require.NoError(t, err)

	_, err = NewClient(server.URL).Upload(context.Background(), sel)
	require.NoError(t, err)

	assert.Equal(t, "cat.png", gotName)
	assert.Equal(t, "image/png", gotType)
	assert.Equal(t, data, gotData)
	assert.Len(t, gotRequestID, 36)
}

func TestClientNetworkFailureAndMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	m := metrics.New()
	sel, err := NewSelection("cat.png", pngBytes(t), 0)
	require.NoError(t, err)

	_, err = NewClient(url, WithMetrics(m), WithTimeout(time.Second)).Upload(context.Background(), sel)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTransport))
	assert.Equal(t, uint64(1), m.UploadsFailed.Load())
	assert.Equal(t, uint64(0), m.UploadsOK.Load())

	count, err := testutil.GatherAndCount(m.Registry(), "vision_uploads_failed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewSelectionGuards(t *testing.T) {
	_, err := NewSelection("notes.txt", []byte("hello, not an image"), DefaultMaxBytes)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInput))

	_, err = NewSelection("empty.png", nil, DefaultMaxBytes)
	assert.True(t, IsKind(err, KindInput))

	_, err = NewSelection("big.png", pngBytes(t), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")

	sel, err := NewSelection("dir/cat.png", pngBytes(t), DefaultMaxBytes)
	require.NoError(t, err)
	assert.Equal(t, "cat.png", sel.Name)
	assert.Equal(t, "image/png", sel.ContentType)
	assert.True(t, strings.HasPrefix(sel.Preview, "data:image/png;base64,"))
}

func TestDecodeDataURL(t *testing.T) {
	data := pngBytes(t)

	ct, got, err := DecodeDataURL(EncodeDataURL("image/jpeg", data))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)
	assert.Equal(t, data, got)

	ct, _, err = DecodeDataURL(strings.TrimPrefix(EncodeDataURL("image/png", data), "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	for _, bad := range []string{"", "data:image/png;base64", "data:text/plain,hello", "data:image/png;base64,%%%"} {
		_, _, err := DecodeDataURL(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg"))
	assert.Equal(t, ".png", ExtensionFor("image/png"))
}

func TestFlowPreviewBeforeRequest(t *testing.T) {
	view := &recordingView{}
	var uploadAt int
	up := uploaderFunc(func(ctx context.Context, sel Selection) (*Result, error) {
		view.mu.Lock()
		uploadAt = len(view.events)
		view.mu.Unlock()
		return &Result{Caption: "a cat", Image: "data:image/png;base64,XXXX"}, nil
	})

	flow := NewFlow(up, view, DefaultMaxBytes)
	require.NoError(t, flow.Select("cat.png", pngBytes(t)))

	previewAt := view.indexOf("preview")
	require.GreaterOrEqual(t, previewAt, 0)
	trigger, _ := view.snapshot()
	assert.True(t, trigger)

	_, err := flow.Analyze(context.Background())
	require.NoError(t, err)
	assert.Less(t, previewAt, uploadAt)
}

func TestFlowTriggerDisabledWhileInFlight(t *testing.T) {
	outcomes := map[string]error{
		"success": nil,
		"failure": transportError("server error", http.StatusInternalServerError, nil),
	}
	for name, outcome := range outcomes {
		t.Run(name, func(t *testing.T) {
			view := &recordingView{}
			up := uploaderFunc(func(ctx context.Context, sel Selection) (*Result, error) {
				trigger, loading := view.snapshot()
				assert.False(t, trigger, "trigger must be disabled during the request")
				assert.True(t, loading, "loading must be visible during the request")
				if outcome != nil {
					return nil, outcome
				}
				return &Result{Caption: "a cat"}, nil
			})

			flow := NewFlow(up, view, 0)
			require.NoError(t, flow.Select("cat.png", pngBytes(t)))
			enablesBefore := view.count("trigger:true")

			_, _ = flow.Analyze(context.Background())

			trigger, loading := view.snapshot()
			assert.True(t, trigger)
			assert.False(t, loading)
			assert.Equal(t, enablesBefore+1, view.count("trigger:true"), "re-enabled exactly once")
			assert.False(t, flow.Busy())
		})
	}
}

func TestFlowShowsResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"caption":"a cat","image":"data:image/png;base64,XXXX"}`)
	}))
	defer server.Close()

	view := &recordingView{}
	flow := NewFlow(NewClient(server.URL), view, DefaultMaxBytes)
	require.NoError(t, flow.Select("cat.png", pngBytes(t)))

	res, err := flow.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a cat", res.Caption)
	assert.Equal(t, "a cat", view.caption)
	assert.Equal(t, "data:image/png;base64,XXXX", view.imageSrc)
	assert.Empty(t, view.errMsg)
}

func TestFlowNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	view := &recordingView{}
	flow := NewFlow(NewClient(server.URL), view, DefaultMaxBytes)
	require.NoError(t, flow.Select("cat.png", pngBytes(t)))

	_, err := flow.Analyze(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTransport))
	assert.True(t, strings.HasPrefix(view.errMsg, ErrorPrefix), view.errMsg)
	assert.Contains(t, view.errMsg, "500")

	trigger, loading := view.snapshot()
	assert.True(t, trigger)
	assert.False(t, loading)
	assert.Zero(t, view.count("result"))
}

func TestFlowWithoutSelection(t *testing.T) {
	view := &recordingView{}
	called := false
	flow := NewFlow(uploaderFunc(func(ctx context.Context, sel Selection) (*Result, error) {
		called = true
		return nil, nil
	}), view, 0)

	_, err := flow.Analyze(context.Background())
	assert.ErrorIs(t, err, ErrNoSelection)
	assert.False(t, called)
	assert.Equal(t, "please select an image", view.errMsg)
	assert.Zero(t, view.count("loading:true"))
}

func TestFlowRejectsSecondAnalyze(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls int
	var mu sync.Mutex

	view := &recordingView{}
	flow := NewFlow(uploaderFunc(func(ctx context.Context, sel Selection) (*Result, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-release
		return &Result{Caption: "done"}, nil
	}), view, 0)
	require.NoError(t, flow.Select("cat.png", pngBytes(t)))

	done := make(chan error, 1)
	go func() {
		_, err := flow.Analyze(context.Background())
		done <- err
	}()
	<-started

	_, err := flow.Analyze(context.Background())
	assert.True(t, errors.Is(err, ErrBusy))
	assert.True(t, flow.Busy())

	close(release)
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestFlowSelectWhileBusyKeepsTriggerDisabled(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var uploaded []string
	var mu sync.Mutex

	view := &recordingView{}
	flow := NewFlow(uploaderFunc(func(ctx context.Context, sel Selection) (*Result, error) {
		mu.Lock()
		uploaded = append(uploaded, sel.Name)
		mu.Unlock()
		close(started)
		<-release
		return &Result{Caption: "done", Image: "data:image/png;base64,AAAA"}, nil
	}), view, 0)
	require.NoError(t, flow.Select("a.png", pngBytes(t)))

	done := make(chan error, 1)
	go func() {
		_, err := flow.Analyze(context.Background())
		done <- err
	}()
	<-started

	require.NoError(t, flow.Select("b.png", pngBytes(t)))
	trigger, loading := view.snapshot()
	assert.False(t, trigger, "trigger stays disabled until the request settles")
	assert.True(t, loading)
	assert.True(t, flow.Busy())

	sel, ok := flow.Selected()
	require.True(t, ok)
	assert.Equal(t, "b.png", sel.Name)

	close(release)
	require.NoError(t, <-done)

	trigger, loading = view.snapshot()
	assert.True(t, trigger)
	assert.False(t, loading)
	mu.Lock()
	assert.Equal(t, []string{"a.png"}, uploaded)
	mu.Unlock()
}

func TestFlowSelectFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cat.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t), 0o644))

	view := &recordingView{}
	flow := NewFlow(uploaderFunc(func(ctx context.Context, sel Selection) (*Result, error) {
		return nil, nil
	}), view, 0)

	require.NoError(t, flow.SelectFile(path))
	sel, ok := flow.Selected()
	require.True(t, ok)
	assert.Equal(t, "cat.png", sel.Name)

	err := flow.SelectFile(filepath.Join(dir, "missing.png"))
	assert.True(t, IsKind(err, KindInput))
	assert.NotEmpty(t, view.errMsg)

	// a failed reselect keeps the earlier selection
	sel, ok = flow.Selected()
	require.True(t, ok)
	assert.Equal(t, "cat.png", sel.Name)
}

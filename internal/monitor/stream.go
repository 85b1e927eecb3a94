package monitor

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/dj-oyu/vision-console/internal/camera"
	"github.com/dj-oyu/vision-console/internal/logger"
	"github.com/dj-oyu/vision-console/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func blankJPEG() ([]byte, error) {
	img := camera.ColorBars(camera.DefaultWidth, camera.DefaultHeight)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// streamMJPEG writes frames from frameCh as multipart/x-mixed-replace until
// the channel closes or the client goes away. A blank frame keeps the
// connection alive while no canvas arrives.
func streamMJPEG(w http.ResponseWriter, r *http.Request, frameCh <-chan types.JPEGFrame, idle time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	blank, err := blankJPEG()
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		var data []byte
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frameCh:
			if !ok {
				return
			}
			data = frame.Data
		case <-timer.C:
			data = blank
		}
		timer.Reset(idle)

		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n", types.ContentTypeJPEG, len(data)); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(data); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()
	}
}

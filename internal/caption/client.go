package caption

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/dj-oyu/vision-console/internal/logger"
	"github.com/dj-oyu/vision-console/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FormField is the multipart part name the upload endpoint expects.
const FormField = "file"

// RequestIDHeader carries a per-upload correlation id.
const RequestIDHeader = "X-Request-ID"

// Result is the decoded caption response.
type Result struct {
	Caption  string `json:"caption"`
	Image    string `json:"image"`
	Filename string `json:"original_filename,omitempty"`
}

type uploadResponse struct {
	Success  *bool   `json:"success"`
	Caption  *string `json:"caption"`
	Image    string  `json:"image"`
	Filename string  `json:"original_filename"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Uploader sends one selection to the caption service.
type Uploader interface {
	Upload(ctx context.Context, sel Selection) (*Result, error)
}

// Client talks to the caption gateway over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each upload, including reading the response.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMetrics records upload outcomes.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client for the given upload URL.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload posts the selection as a single multipart part and decodes the
// caption response. It never retries.
func (c *Client) Upload(ctx context.Context, sel Selection) (*Result, error) {
	start := time.Now()
	res, err := c.upload(ctx, sel)
	if c.metrics != nil {
		c.metrics.UpdateUploadLatency(time.Since(start))
		if err != nil {
			c.metrics.UploadsFailed.Add(1)
		} else {
			c.metrics.UploadsOK.Add(1)
		}
	}
	return res, err
}

func (c *Client) upload(ctx context.Context, sel Selection) (*Result, error) {
	body, contentType, err := encodeForm(sel)
	if err != nil {
		return nil, inputError("build upload form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, inputError("build upload request", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	logger.Debug("Caption", "POST %s (%s, %d bytes, request %s)", c.endpoint, sel.Name, len(sel.Data), requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError("send upload", 0, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError("read response", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := "server error"
		var detail errorResponse
		if json.Unmarshal(payload, &detail) == nil && detail.Detail != "" {
			msg = "server error: " + detail.Detail
		}
		logger.Warn("Caption", "Upload %s rejected with status %d", requestID, resp.StatusCode)
		return nil, transportError(msg, resp.StatusCode, nil)
	}

	var decoded uploadResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, protocolError("decode response", err)
	}
	if decoded.Success != nil && !*decoded.Success {
		return nil, protocolError("service reported failure", nil)
	}
	if decoded.Caption == nil {
		return nil, protocolError("response has no caption", nil)
	}

	logger.Info("Caption", "Upload %s captioned: %q", requestID, *decoded.Caption)
	return &Result{
		Caption:  *decoded.Caption,
		Image:    decoded.Image,
		Filename: decoded.Filename,
	}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeForm builds the multipart body. Unlike CreateFormFile it keeps the
// selection's own content type on the part.
func encodeForm(sel Selection) (io.Reader, string, error) {
	if len(sel.Data) == 0 {
		return nil, "", errors.New("empty image")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	contentType := sel.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FormField, quoteEscaper.Replace(sel.Name)))
	h.Set("Content-Type", contentType)

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(sel.Data); err != nil {
		return nil, "", fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

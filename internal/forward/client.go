package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"auditflow/internal/types"

	"go.uber.org/zap"
)

// Variant is the kind of response the caller wants from stage two.
type Variant int

const (
	// VariantReport asks for the rendered report document.
	VariantReport Variant = iota
	// VariantStatus asks for the JSON status document.
	VariantStatus
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeJSON = "application/json"
)

// Accept returns the Accept header value for the variant.
func (v Variant) Accept() string {
	if v == VariantStatus {
		return ContentTypeJSON
	}
	return ContentTypePDF
}

func (v Variant) String() string {
	if v == VariantStatus {
		return "status"
	}
	return "report"
}

// VariantFromAccept maps a caller's Accept header onto a variant. Anything
// that asks for JSON gets the status document; everything else gets the report.
func VariantFromAccept(accept string) Variant {
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == ContentTypeJSON {
			return VariantStatus
		}
	}
	return VariantReport
}

// Request is one forwarding call.
type Request struct {
	JobID       string
	ArchivePath string
	IssuesPath  string
	Variant     Variant
}

// Response is stage two's answer, kept verbatim for relaying.
type Response struct {
	Variant     Variant
	StatusCode  int
	ContentType string
	Filename    string
	Body        []byte
	// Status is set when the body is a status document.
	Status *types.StatusDocument
}

// Options configure a Client.
type Options struct {
	BaseURL    string
	Endpoint   string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// Client posts a job's archive and issues to stage two.
type Client struct {
	http *http.Client
	url  string
	opts Options
	log  *zap.Logger
}

// New builds a Client. httpClient may be nil.
func New(opts Options, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Endpoint == "" {
		opts.Endpoint = "/deep-analyze"
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http: httpClient,
		url:  strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(opts.Endpoint, "/"),
		opts: opts,
		log:  logger.Named("forward"),
	}
}

// URL is the full stage-two endpoint.
func (c *Client) URL() string { return c.url }

// Forward sends req, retrying network errors and non-2xx answers up to
// Options.Retries more times with a fixed delay. When every attempt fails it
// returns a *types.ForwardingError wrapping the last cause.
func (c *Client) Forward(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	attempts := c.opts.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.once(ctx, req)
		if err == nil {
			c.log.Info("forwarded job",
				zap.String("job_id", req.JobID),
				zap.Int("attempt", attempt),
				zap.String("variant", resp.Variant.String()),
				zap.Duration("took", time.Since(start)))
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("forward attempt failed",
			zap.String("job_id", req.JobID),
			zap.Int("attempt", attempt),
			zap.Int("of", attempts),
			zap.Error(err))
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.opts.RetryDelay):
		}
	}
	return nil, &types.ForwardingError{URL: c.url, Attempts: attempts, Elapsed: time.Since(start), Err: lastErr}
}

func (c *Client) once(ctx context.Context, req Request) (*Response, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", req.Variant.Accept())

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		pr.Close()
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("stage two responded %d: %s", httpResp.StatusCode, snippet(body))
	}
	return decodeResponse(httpResp, body)
}

func decodeResponse(httpResp *http.Response, body []byte) (*Response, error) {
	ct := httpResp.Header.Get("Content-Type")
	resp := &Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: ct,
		Filename:    ParseFilename(httpResp.Header.Get("Content-Disposition")),
		Body:        body,
		Variant:     VariantReport,
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil && mt == ContentTypeJSON {
		var status types.StatusDocument
		if err := json.Unmarshal(body, &status); err != nil {
			return nil, fmt.Errorf("decode status document: %w", err)
		}
		resp.Variant = VariantStatus
		resp.Status = &status
	}
	return resp, nil
}

func writeParts(mw *multipart.Writer, req Request) error {
	if err := filePart(mw, "source_zip", "source"+archiveExt(req.ArchivePath), archiveType(req.ArchivePath), req.ArchivePath); err != nil {
		return err
	}
	if err := filePart(mw, "json_file", "issues.json", ContentTypeJSON, req.IssuesPath); err != nil {
		return err
	}
	if err := mw.WriteField("job_id", req.JobID); err != nil {
		return err
	}
	return mw.Close()
}

func filePart(mw *multipart.Writer, field, filename, contentType, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	h.Set("Content-Type", contentType)
	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func archiveExt(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".tar.gz") {
		return ".tar.gz"
	}
	if ext := filepath.Ext(path); ext != "" {
		return ext
	}
	return ".zip"
}

func archiveType(path string) string {
	if archiveExt(path) == ".tar.gz" {
		return "application/gzip"
	}
	return "application/zip"
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(bytes.ToValidUTF8(body, nil)))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	if s == "" {
		return "(empty body)"
	}
	return s
}

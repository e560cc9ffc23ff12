package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Converter renders HTML to PDF through a Gotenberg-compatible service. The
// service takes a multipart upload of the page and replies with the PDF
// bytes.
type Converter struct {
	baseURL string
	httpc   *http.Client
}

func NewConverter(baseURL string) *Converter {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	return &Converter{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// HTMLToPDF uploads a standalone HTML page and returns the rendered PDF.
func (c *Converter) HTMLToPDF(ctx context.Context, page []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("archive: pdf converter is not configured")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="files"; filename="index.html"`)
	hdr.Set("Content-Type", "text/html")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("archive: build convert request: %w", err)
	}
	if _, err := part.Write(page); err != nil {
		return nil, fmt.Errorf("archive: build convert request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("archive: build convert request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/forms/chromium/convert/html", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive: convert to pdf: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("archive: converter returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return io.ReadAll(resp.Body)
}

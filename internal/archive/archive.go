// Package archive exports finished battle transcripts to S3-compatible
// object storage so they survive cache eviction and store retention.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"arena/internal/arena"
)

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// ConverterURL points at a Gotenberg-compatible HTML-to-PDF service;
	// empty disables the PDF rendition.
	ConverterURL string
}

// ErrUnknownFormat is returned for transcript format names outside the
// supported set.
var ErrUnknownFormat = errors.New("archive: unknown transcript format")

type Archiver struct {
	client *minio.Client
	bucket string
	region string
	conv   *Converter

	initOnce sync.Once
	initErr  error
}

func New(cfg Config) (*Archiver, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("archive: endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("archive: access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: init client: %w", err)
	}
	return &Archiver{client: client, bucket: bucket, region: region, conv: NewConverter(cfg.ConverterURL)}, nil
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	a.initOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			a.initErr = err
			return
		}
		if exists {
			return
		}
		a.initErr = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
	})
	return a.initErr
}

// Transcript renditions stored per battle. PDF is present only when a
// converter service is configured and reachable at archive time.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatPDF      = "pdf"
)

func objectKey(battleID, format string) (key, contentType string, err error) {
	prefix := "battles/" + battleID + "/transcript"
	switch format {
	case "", FormatJSON:
		return prefix + ".json", "application/json", nil
	case FormatMarkdown:
		return prefix + ".md", "text/markdown; charset=utf-8", nil
	case FormatHTML:
		return prefix + ".html", "text/html; charset=utf-8", nil
	case FormatPDF:
		return prefix + ".pdf", "application/pdf", nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Archive stores every rendition of the battle's transcript and returns the
// key of the canonical JSON document. A converter outage only costs the PDF.
func (a *Archiver) Archive(ctx context.Context, b *arena.Battle) (string, error) {
	if a == nil {
		return "", fmt.Errorf("archive: not configured")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("archive: ensure bucket: %w", err)
	}
	doc, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: encode battle %s: %w", b.ID, err)
	}
	md := renderMarkdown(b)
	page, err := renderHTML(b)
	if err != nil {
		return "", err
	}

	key, _, _ := objectKey(b.ID, FormatJSON)
	if err := a.put(ctx, b.ID, FormatJSON, doc); err != nil {
		return "", err
	}
	if err := a.put(ctx, b.ID, FormatMarkdown, []byte(md)); err != nil {
		return "", err
	}
	if err := a.put(ctx, b.ID, FormatHTML, page); err != nil {
		return "", err
	}
	if a.conv != nil {
		pdf, err := a.conv.HTMLToPDF(ctx, page)
		if err != nil {
			log.Printf("archive: pdf rendition of battle %s skipped: %v", b.ID, err)
		} else if err := a.put(ctx, b.ID, FormatPDF, pdf); err != nil {
			return "", err
		}
	}
	return key, nil
}

func (a *Archiver) put(ctx context.Context, battleID, format string, data []byte) error {
	key, contentType, err := objectKey(battleID, format)
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// Transcript fetches one rendition of a previously archived battle. An empty
// format means the canonical JSON document.
func (a *Archiver) Transcript(ctx context.Context, battleID, format string) ([]byte, string, error) {
	if a == nil {
		return nil, "", fmt.Errorf("archive: not configured")
	}
	key, contentType, err := objectKey(battleID, format)
	if err != nil {
		return nil, "", err
	}
	if err := a.ensureBucket(ctx); err != nil {
		return nil, "", fmt.Errorf("archive: ensure bucket: %w", err)
	}
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

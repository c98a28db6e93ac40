package llm

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/joe02740/wmapp/app/config"
	"github.com/joe02740/wmapp/app/metrics"
)

// Placeholder stands in for a reference document that could not be read.
const Placeholder = "[reference document unavailable]"

const maxDocumentBytes = 4 << 20

// ObjectGetter is the part of the S3 client used to fetch documents.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// DocumentStore reads the reference documents from local paths or
// s3://bucket/key URIs.
type DocumentStore struct {
	currentURI string
	legacyURI  string
	s3         ObjectGetter
	log        zerolog.Logger
}

// NewDocumentStore builds an S3 client only when a URI needs one.
func NewDocumentStore(ctx context.Context, cfg config.ReferenceConfig, log zerolog.Logger) (*DocumentStore, error) {
	d := &DocumentStore{
		currentURI: cfg.CurrentURI,
		legacyURI:  cfg.LegacyURI,
		log:        log.With().Str("component", "reference-docs").Logger(),
	}
	if isS3(cfg.CurrentURI) || isS3(cfg.LegacyURI) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		d.s3 = s3.NewFromConfig(awsCfg)
	}
	return d, nil
}

// WithObjectGetter replaces the S3 client.
func (d *DocumentStore) WithObjectGetter(g ObjectGetter) *DocumentStore {
	d.s3 = g
	return d
}

// Load reads both documents concurrently. A document that cannot be read
// is replaced by Placeholder; Load itself never fails.
func (d *DocumentStore) Load(ctx context.Context) Documents {
	var docs Documents
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docs.Current = d.readOrPlaceholder(gctx, d.currentURI)
		return nil
	})
	g.Go(func() error {
		docs.Legacy = d.readOrPlaceholder(gctx, d.legacyURI)
		return nil
	})
	_ = g.Wait()
	return docs
}

func (d *DocumentStore) readOrPlaceholder(ctx context.Context, uri string) string {
	source := "file"
	if isS3(uri) {
		source = "s3"
	}
	text, err := d.read(ctx, uri)
	if err != nil {
		metrics.DocumentLoads.WithLabelValues(source, "error").Inc()
		d.log.Warn().Err(err).Str("uri", uri).Msg("reference document unavailable")
		return Placeholder
	}
	metrics.DocumentLoads.WithLabelValues(source, "ok").Inc()
	return text
}

func (d *DocumentStore) read(ctx context.Context, uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("no location configured")
	}
	if !isS3(uri) {
		f, err := os.Open(uri)
		if err != nil {
			return "", err
		}
		defer f.Close()
		return readAll(f)
	}

	if d.s3 == nil {
		return "", fmt.Errorf("s3 client not configured")
	}
	bucket, key, ok := splitS3(uri)
	if !ok {
		return "", fmt.Errorf("malformed s3 uri %q", uri)
	}
	out, err := d.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", err
	}
	defer out.Body.Close()
	return readAll(out.Body)
}

func readAll(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxDocumentBytes))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isS3(uri string) bool { return strings.HasPrefix(uri, "s3://") }

func splitS3(uri string) (bucket, key string, ok bool) {
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

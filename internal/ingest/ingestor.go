// Package ingest fetches submitted resources and classifies their format.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/storage"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultFileName = "resource"

// Request describes a resource submitted for ingestion.
type Request struct {
	ID          string
	ClassID     string
	URL         string
	Title       string
	Description string
	Tags        []string
	// Strategy is detected from URL when empty.
	Strategy domain.IngestStrategy
}

// Fetcher downloads a URL into w.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, w io.Writer) error
}

// ObjectSource downloads objects that resources were submitted from.
type ObjectSource interface {
	ParseObjectURL(raw string) (bucket, key string, ok bool)
	Download(ctx context.Context, bucket, key string, w io.Writer) error
}

type Config struct {
	ScratchDir      string
	DownloadTimeout time.Duration
}

// Ingestor turns a Request into an IngestedDocument.
type Ingestor struct {
	cfg     Config
	fetcher Fetcher
	objects ObjectSource
	logger  logrus.FieldLogger
	now     func() time.Time
}

// NewIngestor builds an ingestor. objects may be nil, in which case object
// storage URLs fail to ingest.
func NewIngestor(cfg Config, fetcher Fetcher, objects ObjectSource, logger logrus.FieldLogger) *Ingestor {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	return &Ingestor{
		cfg:     cfg,
		fetcher: fetcher,
		objects: objects,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DetectStrategy picks how to obtain raw.
func (i *Ingestor) DetectStrategy(raw string) domain.IngestStrategy {
	if i.objects != nil {
		if _, _, ok := i.objects.ParseObjectURL(raw); ok {
			return domain.IngestStrategyObjectStorage
		}
	} else if _, _, ok := storage.ParseAWSObjectURL(raw); ok {
		return domain.IngestStrategyObjectStorage
	}
	if IsVideoURL(raw) {
		return domain.IngestStrategyRawURL
	}
	return domain.IngestStrategyURLDownload
}

// Ingest fetches and classifies the resource. Network and storage failures
// are domain.ErrFetch; unrecognised content is domain.ErrUnsupportedFormat.
func (i *Ingestor) Ingest(ctx context.Context, req Request) (*domain.IngestedDocument, error) {
	if req.ClassID == "" || req.URL == "" {
		return nil, domain.ErrMissingRequiredField
	}
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid resource url", err)
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = i.DetectStrategy(req.URL)
	}

	id, err := resourceID(req.ID)
	if err != nil {
		return nil, err
	}

	log := i.logger.WithFields(logrus.Fields{
		"class_id":    req.ClassID,
		"resource_id": id,
		"strategy":    strategy,
	})

	var doc *domain.IngestedDocument
	switch strategy {
	case domain.IngestStrategyRawURL:
		doc, err = i.ingestRaw(req)
	case domain.IngestStrategyURLDownload:
		doc, err = i.ingestDownload(ctx, req, id, func(ctx context.Context, w io.Writer) error {
			return i.fetcher.Fetch(ctx, req.URL, w)
		})
	case domain.IngestStrategyObjectStorage:
		if i.objects == nil {
			return nil, domain.ErrUnsupportedFormat.WithCause(errors.New("object storage is not configured"))
		}
		bucket, key, ok := i.objects.ParseObjectURL(req.URL)
		if !ok {
			return nil, domain.ErrUnsupportedFormat.WithCause(fmt.Errorf("not an object storage url: %s", req.URL))
		}
		doc, err = i.ingestDownload(ctx, req, id, func(ctx context.Context, w io.Writer) error {
			return i.objects.Download(ctx, bucket, key, w)
		})
	default:
		return nil, domain.ErrUnsupportedFormat.WithCause(fmt.Errorf("unknown ingest strategy %q", strategy))
	}
	if err != nil {
		log.WithError(err).Warn("ingest failed")
		return nil, err
	}

	now := i.now()
	doc.ID = id
	doc.ClassID = req.ClassID
	doc.Kind = domain.ResourceKindRoot
	doc.SourceURL = req.URL
	doc.FullResourceURL = req.URL
	doc.IngestStrategy = strategy
	doc.Status = domain.ResourceStatusPending
	doc.CreatedAt = now
	doc.ModifiedAt = now
	doc.Metadata.Description = req.Description
	doc.Metadata.Tags = append([]string{}, req.Tags...)
	doc.Metadata.ResourceType = domain.ResourceTypeFor(doc.InputFormat)
	if req.Title != "" {
		doc.Metadata.Title = req.Title
	}

	log.WithFields(logrus.Fields{
		"input_format": doc.InputFormat,
		"content_hash": doc.ContentHash,
	}).Info("resource ingested")
	return doc, nil
}

func (i *Ingestor) ingestRaw(req Request) (*domain.IngestedDocument, error) {
	videoID, ok := VideoID(req.URL)
	if !ok {
		return nil, domain.ErrUnsupportedFormat.WithCause(fmt.Errorf("no video id in %s", req.URL))
	}
	doc := &domain.IngestedDocument{VideoID: videoID}
	doc.InputFormat = domain.InputFormatYouTubeVideo
	// Raw links cannot be fetched, so the link itself is hashed.
	doc.ContentHash = hashString(req.URL)
	doc.Metadata.Title = videoID
	return doc, nil
}

func (i *Ingestor) ingestDownload(ctx context.Context, req Request, id string, fetch func(context.Context, io.Writer) error) (*domain.IngestedDocument, error) {
	name := fileNameFromURL(req.URL)
	dir := filepath.Join(i.cfg.ScratchDir, id)
	if err := withinScratch(i.cfg.ScratchDir, dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.ErrFetch.WithCause(err)
	}
	dest := filepath.Join(dir, name)

	f, err := os.Create(dest)
	if err != nil {
		return nil, domain.ErrFetch.WithCause(err)
	}

	h := sha1.New()
	head := &headBuffer{limit: sniffLen}

	fetchCtx := ctx
	if i.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, i.cfg.DownloadTimeout)
		defer cancel()
	}

	err = fetch(fetchCtx, io.MultiWriter(f, h, head))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, domain.ErrFetch.WithCause(err)
	}

	format, err := DetectFormat(name, head.buf)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	doc := &domain.IngestedDocument{DataPath: dest, ScratchDir: dir, ScratchRoot: i.cfg.ScratchDir}
	doc.InputFormat = format
	doc.ContentHash = hexDigest(h)
	doc.Metadata.Title = strings.TrimSuffix(name, filepath.Ext(name))
	return doc, nil
}

// resourceID returns the canonical form of a caller-supplied id, or a new
// one when none was given.
func resourceID(raw string) (string, error) {
	if raw == "" {
		return uuid.NewString(), nil
	}
	return domain.ParseResourceID(raw)
}

// Cleanup removes the scratch directory of doc, if any. It refuses to
// remove anything that is not a direct child of the scratch root.
func Cleanup(doc *domain.IngestedDocument) error {
	if doc == nil || doc.ScratchDir == "" {
		return nil
	}
	if err := withinScratch(doc.ScratchRoot, doc.ScratchDir); err != nil {
		return err
	}
	return os.RemoveAll(doc.ScratchDir)
}

func withinScratch(root, dir string) error {
	if root == "" {
		return domain.ErrValidation.WithCause(fmt.Errorf("no scratch root recorded for %s", dir))
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(dir))
	if err != nil || rel == "." || rel == ".." || strings.ContainsRune(rel, filepath.Separator) {
		return domain.ErrValidation.WithCause(fmt.Errorf("%s is not a directory under scratch root %s", dir, root))
	}
	return nil
}

func fileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return defaultFileName
	}
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = filepath.Base(name)
	if name == "." || name == "/" || name == "" {
		return defaultFileName
	}
	return name
}

func hashString(s string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, s)
	return hexDigest(h)
}

func hexDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// headBuffer keeps the first limit bytes written to it.
type headBuffer struct {
	buf   []byte
	limit int
}

func (b *headBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	return len(p), nil
}

// HTTPFetcher downloads URLs with resty.
type HTTPFetcher struct {
	client *resty.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "taisearch-ingestor/1.0")
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) error {
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		return fmt.Errorf("failed to download %s: status %d", rawURL, resp.StatusCode())
	}
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	return nil
}

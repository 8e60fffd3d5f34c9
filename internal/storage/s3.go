package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// awsObjectURL matches virtual-hosted S3 URLs: https://<bucket>.s3.amazonaws.com/<key>
var awsObjectURL = regexp.MustCompile(`^https://([^./]+)\.s3(?:[.-][a-z0-9-]+)?\.amazonaws\.com/(.+)$`)

// S3ClientConfig holds configuration for S3Client
type S3ClientConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
	// PublicBaseURL overrides the base of URLs returned for uploaded objects.
	PublicBaseURL string
}

// S3Client stores durable copies of resources and their derived artifacts,
// and downloads objects that resources were submitted from.
type S3Client struct {
	client        *s3.Client
	uploader      *manager.Uploader
	bucket        string
	endpoint      string
	publicBaseURL string
}

// NewS3Client creates a new S3Client with the given configuration. Without
// static keys the default AWS credential chain is used.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Client{
		client:        client,
		uploader:      manager.NewUploader(client),
		bucket:        cfg.Bucket,
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Upload streams body to key in the configured bucket and returns the
// object's URL.
func (c *S3Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return c.ObjectURL(key), nil
}

// UploadFile uploads the file at path to key.
func (c *S3Client) UploadFile(ctx context.Context, key, path, contentType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return c.Upload(ctx, key, f, contentType)
}

// Download copies the object at bucket/key into w.
func (c *S3Client) Download(ctx context.Context, bucket, key string, w io.Writer) error {
	if bucket == "" {
		bucket = c.bucket
	}
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to get object %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("failed to read object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (c *S3Client) EnsureBucket(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = c.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}

// ObjectURL returns the URL under which key is addressable.
func (c *S3Client) ObjectURL(key string) string {
	escaped := escapeKey(key)
	switch {
	case c.publicBaseURL != "":
		return c.publicBaseURL + "/" + escaped
	case c.endpoint != "":
		return c.endpoint + "/" + c.bucket + "/" + escaped
	default:
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", c.bucket, escaped)
	}
}

// ParseObjectURL extracts bucket and key from an object URL. It recognises
// virtual-hosted AWS URLs and path-style URLs under the configured endpoint.
func (c *S3Client) ParseObjectURL(raw string) (bucket, key string, ok bool) {
	if c.endpoint != "" && strings.HasPrefix(raw, c.endpoint+"/") {
		rest := strings.TrimPrefix(raw, c.endpoint+"/")
		bucket, key, ok = strings.Cut(rest, "/")
		if !ok || key == "" {
			return "", "", false
		}
		return bucket, unescapeKey(key), true
	}
	return ParseAWSObjectURL(raw)
}

// ParseAWSObjectURL extracts bucket and key from a virtual-hosted AWS URL.
func ParseAWSObjectURL(raw string) (bucket, key string, ok bool) {
	m := awsObjectURL.FindStringSubmatch(raw)
	if m == nil {
		return "", "", false
	}
	return m[1], unescapeKey(m[2]), true
}

// ResourceKey builds the object key prefix used for every artifact of a
// resource.
func ResourceKey(classID, resourceID, name string) string {
	return fmt.Sprintf("class_id=%s/resource_id=%s/%s", classID, resourceID, name)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func unescapeKey(key string) string {
	if k, err := url.PathUnescape(key); err == nil {
		return k
	}
	return key
}

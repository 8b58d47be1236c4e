package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"mediapreview/models"
)

// S3 serves files from a bucket. "/movies/a.mp4" maps to the key
// "{prefix}movies/a.mp4".
type S3 struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	prefix    string
}

type S3Config struct {
	Endpoint       string
	PublicEndpoint string // used for presigned URLs; falls back to Endpoint
	Bucket         string
	Region         string
	AccessKey      string
	SecretKey      string
	Prefix         string
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	withEndpoint := func(endpoint string) func(*s3.Options) {
		return func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		}
	}

	presignEndpoint := cfg.Endpoint
	if cfg.PublicEndpoint != "" {
		presignEndpoint = cfg.PublicEndpoint
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &S3{
		client:    s3.NewFromConfig(awsCfg, withEndpoint(cfg.Endpoint)),
		presigner: s3.NewPresignClient(s3.NewFromConfig(awsCfg, withEndpoint(presignEndpoint))),
		bucket:    cfg.Bucket,
		prefix:    prefix,
	}, nil
}

func (s *S3) Name() string { return "s3" }

// Key maps a preview path to an object key.
func (s *S3) Key(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("invalid path %q: %w", p, ErrNotFound)
	}
	clean := strings.TrimPrefix(path.Clean(p), "/")
	if clean == "" || clean == "." {
		return "", ErrIsDir
	}
	return s.prefix + clean, nil
}

func (s *S3) Stat(ctx context.Context, p string) (models.FileDescriptor, error) {
	key, err := s.Key(p)
	if err != nil {
		return models.FileDescriptor{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return models.FileDescriptor{}, s3Error("head object", err)
	}

	fd := models.FileDescriptor{Name: path.Base(key)}
	if out.ContentLength != nil {
		fd.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		fd.LastModified = *out.LastModified
	}
	if out.ContentType != nil && *out.ContentType != "" && *out.ContentType != "binary/octet-stream" {
		fd.MIMEType = *out.ContentType
	} else {
		fd.MIMEType = MIMETypeForName(fd.Name)
	}
	return fd, nil
}

func (s *S3) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	key, err := s.Key(p)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error("get object", err)
	}
	return out.Body, nil
}

// PresignGet returns a GET URL for p. A non-empty downloadName is sent back
// as an attachment disposition.
func (s *S3) PresignGet(ctx context.Context, p, downloadName string, expiry time.Duration) (string, error) {
	key, err := s.Key(p)
	if err != nil {
		return "", err
	}
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if downloadName != "" {
		in.ResponseContentDisposition = aws.String(fmt.Sprintf(`attachment; filename="%s"`, sanitizeFilename(downloadName)))
	}
	req, err := s.presigner.PresignGetObject(ctx, in, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return req.URL, nil
}

func s3Error(op string, err error) error {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '"' || r == '\\' || r < 0x20 {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

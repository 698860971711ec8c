package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/tokysnatcher/internal/utils"
)

var ErrInvalidS3URL = errors.New("invalid S3 URL format")

type headAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Mirror copies finished chapter files to s3://bucket/prefix/<book folder>/.
type Mirror struct {
	bucket   string
	prefix   string
	head     headAPI
	uploader uploadAPI
}

func New(ctx context.Context, s3URL, profile string) (*Mirror, error) {
	bucket, prefix, err := parseS3URL(s3URL)
	if err != nil {
		return nil, err
	}
	opts := []func(*config.LoadOptions) error{config.WithRetryMode("adaptive")}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 8 * 1024 * 1024
		u.Concurrency = 3
	})
	log.Debug().Str("op", "mirror/mirror").Msgf("Mirroring to s3://%s/%s", bucket, prefix)
	return &Mirror{bucket: bucket, prefix: prefix, head: client, uploader: uploader}, nil
}

func (m *Mirror) Key(localPath string) string {
	name := filepath.Base(localPath)
	book := filepath.Base(filepath.Dir(localPath))
	return path.Join(m.prefix, book, name)
}

// Upload sends one finished chapter file. An object of the same size already
// under the key counts as mirrored.
func (m *Mirror) Upload(ctx context.Context, result utils.ChapterResult) error {
	if !result.Success {
		return nil
	}
	info, err := os.Stat(result.Path)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", result.Path, err)
	}
	key := m.Key(result.Path)
	head, err := m.head.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err == nil && head.ContentLength != nil && *head.ContentLength == info.Size() {
		log.Debug().Str("op", "mirror/mirror").Msgf("s3://%s/%s already mirrored", m.bucket, key)
		return nil
	}

	file, err := os.Open(result.Path)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", result.Path, err)
	}
	defer file.Close()
	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType(result.Path)),
	})
	if err != nil {
		return fmt.Errorf("error uploading to s3://%s/%s: %w", m.bucket, key, err)
	}
	log.Info().Str("op", "mirror/mirror").Msgf("Mirrored %s to s3://%s/%s", filepath.Base(result.Path), m.bucket, key)
	return nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".m4b":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	case ".ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}

func parseS3URL(raw string) (string, string, error) {
	if !strings.HasPrefix(raw, "s3://") {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidS3URL, raw)
	}
	parts := strings.SplitN(strings.TrimPrefix(raw, "s3://"), "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("%w: missing bucket in %s", ErrInvalidS3URL, raw)
	}
	prefix := ""
	if len(parts) > 1 {
		prefix = strings.Trim(parts[1], "/")
	}
	return parts[0], prefix, nil
}

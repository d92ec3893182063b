package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"smsrelay/config"
)

// ObjectStore stores media objects and returns a URL the provider can fetch them from.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// S3Store is an ObjectStore backed by S3 or an S3-compatible service.
type S3Store struct {
	client    *s3.Client
	bucket    string
	region    string
	endpoint  string
	pathStyle bool
	publicURL string
}

// NewS3Store builds an S3 client from cfg.
func NewS3Store(cfg config.MediaConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3 bucket cannot be empty")
	}
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("S3 credentials not available - set S3_ACCESS_KEY and S3_SECRET_KEY")
	}

	endpoint := cfg.S3Endpoint
	// Clean endpoint if it contains bucket name (common misconfiguration)
	if endpoint != "" && strings.Contains(endpoint, cfg.S3Bucket+".") {
		cleaned := strings.Replace(endpoint, cfg.S3Bucket+".", "", 1)
		log.Warn().
			Str("originalEndpoint", endpoint).
			Str("cleanedEndpoint", cleaned).
			Str("bucket", cfg.S3Bucket).
			Msg("Cleaned bucket name from S3 endpoint - endpoint should not contain bucket name")
		endpoint = cleaned
	}

	// Buckets with dots break virtual-hosted TLS certificates
	pathStyle := cfg.S3PathStyle || strings.Contains(cfg.S3Bucket, ".")

	awsCfg := aws.Config{
		Region:      cfg.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	log.Info().
		Str("bucket", cfg.S3Bucket).
		Str("region", cfg.S3Region).
		Str("endpoint", endpoint).
		Bool("pathStyle", pathStyle).
		Msg("S3 client initialized")

	return &S3Store{
		client:    client,
		bucket:    cfg.S3Bucket,
		region:    cfg.S3Region,
		endpoint:  endpoint,
		pathStyle: pathStyle,
		publicURL: cfg.S3PublicURL,
	}, nil
}

// Put uploads data under key and returns its public URL.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=3600"),
	}
	if strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "video/") || contentType == "application/pdf" {
		input.ContentDisposition = aws.String("inline")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Str("bucket", s.bucket).
			Str("mimeType", contentType).
			Int("size", len(data)).
			Msg("Failed to upload media to S3")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	url := publicURL(s.publicURL, s.endpoint, s.region, s.bucket, key, s.pathStyle)
	log.Info().
		Str("key", key).
		Str("bucket", s.bucket).
		Str("mimeType", contentType).
		Int("size", len(data)).
		Str("url", url).
		Msg("Media uploaded to S3")
	return url, nil
}

// publicURL builds the URL an uploaded object is served from.
func publicURL(custom, endpoint, region, bucket, key string, pathStyle bool) string {
	if custom != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(custom, "/"), bucket, key)
	}
	if endpoint != "" && !strings.Contains(endpoint, "amazonaws.com") {
		if pathStyle {
			return fmt.Sprintf("%s/%s/%s", strings.TrimRight(endpoint, "/"), bucket, key)
		}
		host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
		return fmt.Sprintf("https://%s.%s/%s", bucket, strings.TrimRight(host, "/"), key)
	}
	if pathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", region, bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Storage struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

func NewS3Storage(ctx context.Context, s3Config S3Config, publicBaseURL string) (*S3Storage, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(s3Config.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s3Config.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3Config.Endpoint)
			o.UsePathStyle = true
		}
	})

	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s3Config.Bucket, s3Config.Region)
	}

	return &S3Storage{
		client:  client,
		bucket:  s3Config.Bucket,
		baseURL: publicBaseURL,
	}, nil
}

func (s3s *S3Storage) Upload(ctx context.Context, path string, content io.Reader, contentType string) error {
	_, err := s3s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s3s.bucket),
		Key:         aws.String(path),
		Body:        content,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}

func (s3s *S3Storage) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	result, err := s3s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve from S3: %w", err)
	}

	return result.Body, nil
}

func (s3s *S3Storage) PublicURI(path string) string {
	return joinURI(s3s.baseURL, path)
}

func (s3s *S3Storage) PathOf(uri string) (string, bool) {
	return cutURI(s3s.baseURL, uri)
}

// Remove deletes objects one by one so a single failure does not hide the
// others.
func (s3s *S3Storage) Remove(ctx context.Context, paths []string) error {
	return removeAll(ctx, paths, func(ctx context.Context, path string) error {
		_, err := s3s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s3s.bucket),
			Key:    aws.String(path),
		})
		if err != nil {
			return fmt.Errorf("failed to delete from S3: %w", err)
		}
		return nil
	})
}

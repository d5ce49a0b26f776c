package assets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Deleter is the part of the S3 client S3Remover needs.
type S3Deleter interface {
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Remover deletes images stored as objects in a bucket. The object key is
// the reference with BaseURL stripped.
type S3Remover struct {
	client  S3Deleter
	bucket  string
	baseURL string
}

func NewS3Remover(ctx context.Context, region, bucket, baseURL string) (*S3Remover, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3RemoverWithClient(s3.NewFromConfig(cfg), bucket, baseURL), nil
}

func NewS3RemoverWithClient(client S3Deleter, bucket, baseURL string) *S3Remover {
	return &S3Remover{client: client, bucket: bucket, baseURL: baseURL}
}

func (r *S3Remover) Remove(ctx context.Context, ref string) error {
	key := stripBase(ref, r.baseURL)
	if key == "" {
		return fmt.Errorf("empty asset reference %q", ref)
	}
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", r.bucket, key, err)
	}
	return nil
}

package blob

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config describes an S3 bucket holding artifact blobs. Static credentials
// are optional; when absent the default AWS credential chain applies.
type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	URLTTL          time.Duration
	Clock           func() time.Time
}

// S3Provider issues presigned S3 URLs scoped to one bucket.
type S3Provider struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
	clock   func() time.Time
}

// NewS3Provider constructs the provider and its presign client.
func NewS3Provider(ctx context.Context, cfg S3Config) (*S3Provider, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: s3 bucket is required")
	}
	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}

	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Provider{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		ttl:     ttl,
		clock:   clock,
	}, nil
}

// PresignUpload returns a time-limited PUT URL for the owner's blob.
func (p *S3Provider) PresignUpload(ctx context.Context, ownerID, filename string) (SignedURL, error) {
	key, err := objectKey(ownerID, filename)
	if err != nil {
		return SignedURL{}, err
	}
	request, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return SignedURL{}, fmt.Errorf("blob: presign put: %w", err)
	}
	return p.toSignedURL(request.URL)
}

// PresignDownload returns a time-limited GET URL for the owner's blob.
func (p *S3Provider) PresignDownload(ctx context.Context, ownerID, filename string) (SignedURL, error) {
	key, err := objectKey(ownerID, filename)
	if err != nil {
		return SignedURL{}, err
	}
	request, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return SignedURL{}, fmt.Errorf("blob: presign get: %w", err)
	}
	return p.toSignedURL(request.URL)
}

// Delete removes the owner's blob. Deleting a missing object is a no-op in S3.
func (p *S3Provider) Delete(ctx context.Context, ownerID, filename string) error {
	key, err := objectKey(ownerID, filename)
	if err != nil {
		return err
	}
	_, err = p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("blob: delete object: %w", err)
	}
	return nil
}

func (p *S3Provider) toSignedURL(signed string) (SignedURL, error) {
	parsed, err := url.Parse(signed)
	if err != nil {
		return SignedURL{}, fmt.Errorf("blob: parse presigned url: %w", err)
	}
	credential := parsed.RawQuery
	parsed.RawQuery = ""
	return SignedURL{
		URL:        parsed.String(),
		SignedURL:  signed,
		Credential: credential,
		ExpiresAt:  p.clock().UTC().Add(p.ttl),
	}, nil
}

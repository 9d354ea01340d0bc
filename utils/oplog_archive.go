// utils/oplog_archive.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"warehouse-sync-service/pkg/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type ArchiveR2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	BucketName      string
	PublicURL       string
}

// ArchiveR2Client writes retention batches of aged operation entries to an
// R2 bucket before the cleaner deletes them.
type ArchiveR2Client struct {
	client *s3.Client
	config ArchiveR2Config
}

func NewArchiveR2Client(cfg ArchiveR2Config) (*ArchiveR2Client, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("missing required R2 configuration parameters")
	}

	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID),
		}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(r2Resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.AccessKeySecret,
			"",
		)),
		config.WithRetryer(func() aws.Retryer {
			return aws.NopRetryer{}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	// Verify bucket exists and we have permissions
	_, err = client.HeadBucket(context.TODO(), &s3.HeadBucketInput{
		Bucket: aws.String(cfg.BucketName),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") {
			return nil, fmt.Errorf("bucket %s not found or you don't have permission to access it", cfg.BucketName)
		}
		return nil, fmt.Errorf("failed to access bucket: %w", err)
	}

	return &ArchiveR2Client{
		client: client,
		config: cfg,
	}, nil
}

func (r *ArchiveR2Client) Upload(ctx context.Context, key string, content []byte, contentType string) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}
	return nil
}

// ArchiveOperationEntries serializes a retention batch under
// "oplog_archive/<date>/" and returns the object key.
func (r *ArchiveR2Client) ArchiveOperationEntries(ctx context.Context, entries []*models.OperationEntry) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("nothing to archive")
	}

	content, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to encode archive batch: %w", err)
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("oplog_archive/%s/batch_%d_%d.json",
		now.Format("2006-01-02"), now.UnixMilli(), len(entries))

	if err := r.Upload(ctx, key, content, "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

package awsx

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Uploader persists scan artifacts to an S3 bucket under a run-scoped key
// prefix. Retention is independent of the pipeline outcome: the caller
// uploads whether or not the gate passed.
type Uploader struct {
	client *s3.Client
	bucket string
}

// NewUploader creates an uploader for a bucket using the run's credentials.
func NewUploader(cfg aws.Config, bucket string) *Uploader {
	return &Uploader{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}
}

// Bucket returns the target bucket name.
func (u *Uploader) Bucket() string {
	return u.bucket
}

// UploadFiles puts each file under prefix/<basename>. Files upload
// concurrently; the pipeline step as a whole still blocks until every
// object is durable, and any failure fails the step.
func (u *Uploader) UploadFiles(ctx context.Context, prefix string, paths []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, p := range paths {
		g.Go(func() error {
			return u.uploadFile(ctx, prefix, p)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("artifact upload failed: %w", err)
	}
	return nil
}

func (u *Uploader) uploadFile(ctx context.Context, prefix, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer f.Close()

	key := path.Join(prefix, filepath.Base(filePath))
	logrus.Debugf("Uploading %s to s3://%s/%s", filePath, u.bucket, key)

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

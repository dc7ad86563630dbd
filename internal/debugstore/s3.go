// Package debugstore implements the short-retention debug copy of raw
// provider payloads: a bounded escape hatch for operator debugging, not
// a system of record. Retention itself is enforced by a bucket lifecycle
// rule configured outside this module.
package debugstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// Store persists a raw provider response under a request-scoped key.
type Store interface {
	Put(ctx context.Context, requestKey string, payload []byte) error
}

// NoOp is used whenever debug retention is not configured; Put is a
// silent no-op so callers never need to branch on whether retention is
// enabled.
type NoOp struct{}

func (NoOp) Put(context.Context, string, []byte) error { return nil }

// S3Store writes payloads to a single bucket, prefixed by date so an
// operator can browse a day's worth of raw responses. Object expiry is a
// bucket lifecycle rule, not something this module manages.
type S3Store struct {
	bucket string
	client *s3.S3
}

// NewS3Store builds a debug store against the given bucket using the
// default AWS credential chain.
func NewS3Store(bucket string) (*S3Store, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, fmt.Errorf("debugstore: new session: %w", err)
	}
	return &S3Store{bucket: bucket, client: s3.New(sess)}, nil
}

func (s *S3Store) Put(ctx context.Context, requestKey string, payload []byte) error {
	key := fmt.Sprintf("raw-responses/%s/%s.json", time.Now().UTC().Format("2006-01-02"), requestKey)
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return fmt.Errorf("debugstore: put %s: %w", key, err)
	}
	return nil
}

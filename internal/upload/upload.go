// Package upload transforms raw document blobs into stored-object URLs.
// Uploads are per-file best-effort: a failed file is reported in its Result
// and never fails the batch, so callers keep the successful subset and
// surface a warning for the rest.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// File is one document to store.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// Result is the outcome for a single file: either a retrievable URL or an
// error string.
type Result struct {
	Key string `json:"key,omitempty"`
	URL string `json:"url,omitempty"`
	Err string `json:"error,omitempty"`
}

// Uploader is the object-storage contract consumed by the wizard controller.
type Uploader interface {
	// UploadAll stores each file under prefix in bucket and returns one
	// Result per input file, in order. Partial failure is expected.
	UploadAll(ctx context.Context, files []File, bucket, prefix string) []Result
}

// SuccessfulURLs filters a result batch down to the URLs that uploaded.
func SuccessfulURLs(results []Result) []string {
	var urls []string
	for _, r := range results {
		if r.Err == "" && r.URL != "" {
			urls = append(urls, r.URL)
		}
	}
	return urls
}

// FailureCount returns how many files in the batch failed.
func FailureCount(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != "" {
			n++
		}
	}
	return n
}

// URLExpiry is how long generated document URLs stay retrievable.
const URLExpiry = 7 * 24 * time.Hour

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// S3Uploader implements Uploader against AWS S3, deriving retrievable URLs
// with a presign client.
type S3Uploader struct {
	client    *s3.Client
	presigner *s3.PresignClient
}

var _ Uploader = (*S3Uploader)(nil)

// NewS3Uploader creates an S3Uploader from a configured client.
func NewS3Uploader(client *s3.Client) *S3Uploader {
	return &S3Uploader{
		client:    client,
		presigner: s3.NewPresignClient(client),
	}
}

func (u *S3Uploader) UploadAll(ctx context.Context, files []File, bucket, prefix string) []Result {
	timestamp := time.Now().UnixMilli()
	results := make([]Result, len(files))

	for i, f := range files {
		key := fmt.Sprintf("%s/%d_%d_%s", prefix, timestamp, i, unsafeKeyChars.ReplaceAllString(f.Name, "_"))
		url, err := u.uploadOne(ctx, f, bucket, key)
		if err != nil {
			log.Warn().Err(err).Str("bucket", bucket).Str("key", key).Msg("Document upload failed")
			results[i] = Result{Key: key, Err: err.Error()}
			continue
		}
		results[i] = Result{Key: key, URL: url}
	}

	log.Info().
		Str("bucket", bucket).
		Str("prefix", prefix).
		Int("total", len(files)).
		Int("failed", FailureCount(results)).
		Msg("Document batch uploaded")
	return results
}

func (u *S3Uploader) uploadOne(ctx context.Context, f File, bucket, key string) (string, error) {
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(f.Content),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("PutObject %s/%s: %w", bucket, key, err)
	}

	result, err := u.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = URLExpiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject %s/%s: %w", bucket, key, err)
	}
	return result.URL, nil
}

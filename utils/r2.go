package utils

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	appconfig "trick-battle/config"
)

// HeadObjectAPI is the slice of the S3 client the clip store needs.
type HeadObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// R2ClipStore checks that clip references point at uploaded objects.
type R2ClipStore struct {
	client HeadObjectAPI
	bucket string
}

// NewR2ClipStore builds an S3 client against the account's R2 endpoint.
func NewR2ClipStore(ctx context.Context, r2 appconfig.R2) (*R2ClipStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			r2.AccessKeyID, r2.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2.AccountID)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return NewClipStore(client, r2.Bucket), nil
}

func NewClipStore(client HeadObjectAPI, bucket string) *R2ClipStore {
	return &R2ClipStore{client: client, bucket: bucket}
}

// ClipExists reports whether ref names an object in the bucket. ref is either
// an object key ("clips/abc.mp4") or a URL whose path is the key.
func (s *R2ClipStore) ClipExists(ctx context.Context, ref string) (bool, error) {
	key, err := clipKey(ref, s.bucket)
	if err != nil {
		return false, nil
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", key, err)
}

func clipKey(ref, bucket string) (string, error) {
	key := ref
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", err
		}
		key = strings.TrimPrefix(u.Path, "/")
		key = strings.TrimPrefix(key, bucket+"/")
	}
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", errors.New("invalid clip reference")
	}
	return key, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

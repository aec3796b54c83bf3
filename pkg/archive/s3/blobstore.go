// Package s3 stores archive blobs in an S3 compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dukex/tryon/pkg/archive"
	"github.com/dukex/tryon/pkg/config"
)

// ObjectAPI is the subset of the S3 client the blob store uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
}

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*awss3.Options)) ObjectAPI {
		return awss3.NewFromConfig(cfg, optFns...)
	}
)

// BlobStore implements archive.BlobStore with keys "<prefix>/<kind namespace>/<name>".
type BlobStore struct {
	api    ObjectAPI
	bucket string
	prefix string
}

// ParseURL splits "s3://bucket/some/prefix" into bucket and key prefix.
func ParseURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 url: %w", err)
	}

	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 url %q: want s3://bucket[/prefix]", raw)
	}

	return u.Host, strings.Trim(u.Path, "/"), nil
}

// New builds an S3 client from cfg and returns a blob store for the bucket named by blobURL.
func New(ctx context.Context, blobURL string, cfg config.S3) (*BlobStore, error) {
	bucket, prefix, err := ParseURL(blobURL)
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}

		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithClient(client, bucket, prefix), nil
}

// NewWithClient returns a blob store over an existing client.
func NewWithClient(api ObjectAPI, bucket, prefix string) *BlobStore {
	return &BlobStore{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *BlobStore) WriteInput(ctx context.Context, data []byte, archiveID, mimeHint, uploadName string) (string, error) {
	name := archive.InputFilename(archiveID, mimeHint, uploadName)

	contentType := mimeHint
	if contentType == "" {
		contentType = archive.GenericMIME
	}

	return name, s.put(ctx, archive.KindInput, archiveID, name, contentType, data)
}

func (s *BlobStore) WriteOutput(ctx context.Context, data []byte, archiveID string) (string, error) {
	name := archive.OutputFilename(archiveID)

	return name, s.put(ctx, archive.KindOutput, archiveID, name, archive.OutputMIME, data)
}

func (s *BlobStore) put(ctx context.Context, kind archive.Kind, archiveID, name, contentType string, data []byte) error {
	_, err := s.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(kind, name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return &archive.BlobError{Op: "write", Kind: kind, ArchiveID: archiveID, Err: err}
	}

	return nil
}

// Open returns the lexicographically first object under "<archiveID>_"; S3 lists keys
// in that order.
func (s *BlobStore) Open(ctx context.Context, kind archive.Kind, archiveID string) (*archive.Blob, error) {
	if !archive.ValidID(archiveID) {
		return nil, archive.ErrNotFound
	}

	listed, err := s.api.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.key(kind, archiveID+"_")),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, &archive.BlobError{Op: "open", Kind: kind, ArchiveID: archiveID, Err: err}
	}

	if len(listed.Contents) == 0 {
		return nil, archive.ErrNotFound
	}

	key := aws.ToString(listed.Contents[0].Key)

	obj, err := s.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, archive.ErrNotFound
		}

		return nil, &archive.BlobError{Op: "open", Kind: kind, ArchiveID: archiveID, Err: err}
	}

	return &archive.Blob{
		Name: path.Base(key),
		MIME: archive.MIMEFor(kind),
		Size: aws.ToInt64(obj.ContentLength),
		Body: obj.Body,
	}, nil
}

func (s *BlobStore) List(ctx context.Context, kind archive.Kind) ([]string, error) {
	base := s.key(kind, "")
	names := make([]string, 0)

	paginator := awss3.NewListObjectsV2Paginator(s.api, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(base),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &archive.BlobError{Op: "list", Kind: kind, Err: err}
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), base)
			if name == "" || strings.Contains(name, "/") {
				continue
			}

			names = append(names, name)
		}
	}

	return names, nil
}

func (s *BlobStore) Delete(ctx context.Context, kind archive.Kind, name string) error {
	if name == "" || strings.Contains(name, "/") {
		return &archive.BlobError{Op: "delete", Kind: kind, Err: fmt.Errorf("invalid blob name %q", name)}
	}

	_, err := s.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(kind, name)),
	})
	if err != nil {
		return &archive.BlobError{Op: "delete", Kind: kind, Err: err}
	}

	return nil
}

// HealthCheck verifies the bucket is reachable with the configured credentials.
func (s *BlobStore) HealthCheck(ctx context.Context) error {
	if _, err := s.api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("bucket %s unavailable: %w", s.bucket, err)
	}

	return nil
}

func (s *BlobStore) Close() error {
	return nil
}

func (s *BlobStore) key(kind archive.Kind, name string) string {
	if s.prefix == "" {
		return kind.Namespace() + "/" + name
	}

	return s.prefix + "/" + kind.Namespace() + "/" + name
}

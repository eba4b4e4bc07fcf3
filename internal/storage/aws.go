// AWS S3 gateway backend.
//
// The AWS gateway backend stores blob bytes in an upstream S3 bucket via the
// AWS SDK for Go v2. Record metadata lives in the metadata store; this
// backend handles raw image bytes only.
//
// Key mapping:
//
//	Blobs:  {prefix}{tag}/{name}
//
// Credentials are resolved via the standard AWS credential chain
// (env vars, ~/.aws/credentials, IAM role, etc.) unless static keys are
// configured.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API defines the subset of the AWS S3 client interface that the gateway
// backend uses. This allows mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// AWSGatewayBackend implements the BlobStore interface by storing blobs in
// an upstream Amazon S3 bucket under a key prefix.
type AWSGatewayBackend struct {
	// Bucket is the upstream S3 bucket name.
	Bucket string
	// Region is the AWS region of the upstream bucket.
	Region string
	// Prefix is the key prefix for all blobs in the upstream bucket.
	Prefix string
	// client is the AWS S3 client (satisfying S3API interface).
	client S3API
}

// AWSOptions carries the optional S3 client overrides.
type AWSOptions struct {
	EndpointURL     string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// NewAWSGatewayBackend creates a new AWSGatewayBackend for the specified S3
// bucket in the given region. It initializes the AWS SDK client using the
// default credential chain, with optional overrides for custom endpoint,
// path-style addressing, and static credentials.
func NewAWSGatewayBackend(ctx context.Context, bucket, region, prefix string, opts AWSOptions) (*AWSGatewayBackend, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(region))

	// Use static credentials if provided, otherwise fall back to default chain.
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, s3Opts...)
	b := NewAWSGatewayBackendWithClient(bucket, region, prefix, client)

	// Verify the upstream bucket is accessible.
	if err := b.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("cannot access upstream S3 bucket %q: %w", bucket, err)
	}

	slog.Info("AWS gateway backend initialized", "bucket", bucket, "region", region, "prefix", prefix)
	return b, nil
}

// NewAWSGatewayBackendWithClient creates an AWSGatewayBackend with a
// pre-configured S3 client. This is primarily used for testing with mock
// clients.
func NewAWSGatewayBackendWithClient(bucket, region, prefix string, client S3API) *AWSGatewayBackend {
	return &AWSGatewayBackend{
		Bucket: bucket,
		Region: region,
		Prefix: prefix,
		client: client,
	}
}

// s3Key maps a blob ID to an upstream S3 key.
func (b *AWSGatewayBackend) s3Key(tag Tag, name string) string {
	return b.Prefix + string(tag) + "/" + name
}

// Put uploads blob data to the upstream S3 bucket. The filename is kept as
// user metadata.
func (b *AWSGatewayBackend) Put(ctx context.Context, data []byte, tag Tag, filename string) (string, error) {
	if err := checkTag(tag); err != nil {
		return "", err
	}

	name := newBlobName()
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.Bucket),
		Key:           aws.String(b.s3Key(tag, name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if filename != "" {
		input.Metadata = map[string]string{"filename": filename}
	}
	if tag == TagTransformed {
		input.ContentType = aws.String("image/jpeg")
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("uploading to S3: %w", err)
	}
	return blobID(tag, name), nil
}

// Get downloads blob data from the upstream S3 bucket.
func (b *AWSGatewayBackend) Get(ctx context.Context, id string) ([]byte, error) {
	tag, name, err := splitBlobID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", notFound(id), err)
	}

	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(tag, name)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("getting blob from S3: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading S3 body: %w", err)
	}
	return data, nil
}

// Delete removes a blob from the upstream S3 bucket. Missing keys are not an
// error.
func (b *AWSGatewayBackend) Delete(ctx context.Context, id string) error {
	tag, name, err := splitBlobID(id)
	if err != nil {
		return nil
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(tag, name)),
	})
	if err != nil && !isAWSNotFound(err) {
		return fmt.Errorf("deleting blob from S3: %w", err)
	}
	return nil
}

// List pages through ListObjectsV2 under the tag prefix.
func (b *AWSGatewayBackend) List(ctx context.Context, tag Tag) ([]BlobInfo, error) {
	if err := checkTag(tag); err != nil {
		return nil, err
	}

	prefix := b.s3Key(tag, "")
	var out []BlobInfo
	var token *string
	for {
		resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("listing S3 objects: %w", err)
		}

		for _, obj := range resp.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			info := BlobInfo{ID: blobID(tag, name), Tag: tag, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.Created = obj.LastModified.UTC()
			}
			out = append(out, info)
		}

		if !aws.ToBool(resp.IsTruncated) || resp.NextContinuationToken == nil {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}

// HealthCheck verifies that the upstream S3 bucket is accessible.
func (b *AWSGatewayBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.Bucket),
	})
	return err
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (b *AWSGatewayBackend) Close() error {
	return nil
}

// isAWSNotFound checks if an AWS error is a 404/NoSuchKey/NotFound error.
func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" || code == "NoSuchBucket" {
			return true
		}
	}
	// Also check for types.NoSuchKey.
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	// Check HTTP status code via ResponseError.
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return true
		}
	}
	return false
}

// Ensure AWSGatewayBackend implements BlobStore at compile time.
var _ BlobStore = (*AWSGatewayBackend)(nil)

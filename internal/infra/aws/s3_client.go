package aws

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/spounge-ai/auditgate/internal/remote"
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// storageClient maps the storage operations onto S3. SDK errors are returned
// unwrapped apart from context, so the classifier sees the smithy APIError.
type storageClient struct {
	api s3API
}

func newStorageClient(api s3API) *storageClient {
	return &storageClient{api: api}
}

func (c *storageClient) Invoke(ctx context.Context, op string, params map[string]any) (any, error) {
	bucket, key := remote.String(params, "bucket"), remote.String(params, "key")

	switch op {
	case remote.OpPut:
		return c.put(ctx, bucket, key, params)
	case remote.OpGet:
		return c.get(ctx, bucket, key)
	case remote.OpHead:
		out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
		if err != nil {
			return nil, fmt.Errorf("failed to head object: %w", err)
		}
		return remote.ObjectInfo{
			Bucket:       bucket,
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			ETag:         aws.ToString(out.ETag),
			ContentType:  aws.ToString(out.ContentType),
			LastModified: aws.ToTime(out.LastModified),
			Metadata:     out.Metadata,
		}, nil
	case remote.OpDelete:
		if _, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}); err != nil {
			return nil, fmt.Errorf("failed to delete object: %w", err)
		}
		return remote.Deleted{Bucket: bucket, Key: key}, nil
	case remote.OpList:
		return c.list(ctx, bucket, remote.String(params, "prefix"), remote.Int(params, "max_keys", 1000))
	default:
		return nil, unknownOperation(remote.ServiceStorage, op)
	}
}

func (c *storageClient) put(ctx context.Context, bucket, key string, params map[string]any) (any, error) {
	body := remote.Bytes(params, "body")
	in := &s3.PutObjectInput{
		Bucket:   &bucket,
		Key:      &key,
		Body:     bytes.NewReader(body),
		Metadata: remote.StringMap(params, "metadata"),
	}
	if ct := remote.String(params, "content_type"); ct != "" {
		in.ContentType = aws.String(ct)
	}

	out, err := c.api.PutObject(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to put object: %w", err)
	}
	return remote.ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        int64(len(body)),
		ETag:        aws.ToString(out.ETag),
		ContentType: aws.ToString(in.ContentType),
		Metadata:    in.Metadata,
	}, nil
}

func (c *storageClient) get(ctx context.Context, bucket, key string) (any, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return remote.Object{
		ObjectInfo: remote.ObjectInfo{
			Bucket:       bucket,
			Key:          key,
			Size:         int64(len(body)),
			ETag:         aws.ToString(out.ETag),
			ContentType:  aws.ToString(out.ContentType),
			LastModified: aws.ToTime(out.LastModified),
			Metadata:     out.Metadata,
		},
		Body: body,
	}, nil
}

func (c *storageClient) list(ctx context.Context, bucket, prefix string, limit int64) (any, error) {
	in := &s3.ListObjectsV2Input{Bucket: &bucket}
	if prefix != "" {
		in.Prefix = &prefix
	}

	keys := make([]string, 0)
	paginator := s3.NewListObjectsV2Paginator(c.api, in)
	for paginator.HasMorePages() && int64(len(keys)) < limit {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if int64(len(keys)) == limit {
				break
			}
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return remote.ObjectList{Bucket: bucket, Prefix: prefix, Keys: keys}, nil
}

func (c *storageClient) Close(context.Context) error { return nil }

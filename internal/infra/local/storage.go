package local

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/remote"
)

type storedObject struct {
	info remote.ObjectInfo
	body []byte
}

type objectStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]storedObject
}

func newObjectStore() *objectStore {
	return &objectStore{buckets: make(map[string]map[string]storedObject)}
}

type storageClient struct {
	closer
	store *objectStore
}

func (c *storageClient) Invoke(ctx context.Context, op string, params map[string]any) (any, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	bucket, key := remote.String(params, "bucket"), remote.String(params, "key")

	switch op {
	case remote.OpPut:
		return c.store.put(bucket, key, remote.Bytes(params, "body"), remote.String(params, "content_type"), remote.StringMap(params, "metadata")), nil
	case remote.OpGet:
		obj, err := c.store.get(bucket, key)
		if err != nil {
			return nil, err
		}
		return remote.Object{ObjectInfo: obj.info, Body: slices.Clone(obj.body)}, nil
	case remote.OpHead:
		obj, err := c.store.get(bucket, key)
		if err != nil {
			return nil, err
		}
		return obj.info, nil
	case remote.OpDelete:
		c.store.delete(bucket, key)
		return remote.Deleted{Bucket: bucket, Key: key}, nil
	case remote.OpList:
		return c.store.list(bucket, remote.String(params, "prefix"), int(remote.Int(params, "max_keys", 1000)))
	default:
		return nil, unknownOperation(remote.ServiceStorage, op)
	}
}

func (s *objectStore) put(bucket, key string, body []byte, contentType string, metadata map[string]string) remote.ObjectInfo {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	sum := md5.Sum(body)
	info := remote.ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         int64(len(body)),
		ETag:         fmt.Sprintf("%q", hex.EncodeToString(sum[:])),
		ContentType:  contentType,
		LastModified: time.Now().UTC().Truncate(time.Second),
		Metadata:     maps.Clone(metadata),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	objects, ok := s.buckets[bucket]
	if !ok {
		objects = make(map[string]storedObject)
		s.buckets[bucket] = objects
	}
	objects[key] = storedObject{info: info, body: slices.Clone(body)}
	return info
}

func (s *objectStore) get(bucket, key string) (storedObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	objects, ok := s.buckets[bucket]
	if !ok {
		return storedObject{}, noSuchBucket(bucket)
	}
	obj, ok := objects[key]
	if !ok {
		return storedObject{}, &app_errors.RemoteError{Code: "NoSuchKey", Message: "The specified key does not exist."}
	}
	return obj, nil
}

func (s *objectStore) delete(bucket, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[bucket], key)
}

func (s *objectStore) list(bucket, prefix string, limit int) (remote.ObjectList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	objects, ok := s.buckets[bucket]
	if !ok {
		return remote.ObjectList{}, noSuchBucket(bucket)
	}

	keys := make([]string, 0, len(objects))
	for _, k := range slices.Sorted(maps.Keys(objects)) {
		if len(keys) == limit {
			break
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return remote.ObjectList{Bucket: bucket, Prefix: prefix, Keys: keys}, nil
}

func noSuchBucket(bucket string) error {
	return &app_errors.RemoteError{Code: "NoSuchBucket", Message: fmt.Sprintf("The specified bucket %s does not exist.", bucket)}
}

package store

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Adapter is the archival backend (§9): compiled-list history is written
// to object storage for durability beyond the primary adapter's retention
// window. It satisfies Adapter, but S3 has no native per-object expiry
// without a bucket lifecycle rule, so expiry is checked by Get: an expired
// object is deleted when it is read and reported as missing.
type S3Adapter struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3Adapter builds an archival adapter for the given bucket, with all
// keys namespaced under keyPrefix (e.g. "compiler-archive/").
func NewS3Adapter(sess *session.Session, bucket, keyPrefix string) *S3Adapter {
	return &S3Adapter{client: s3.New(sess), bucket: bucket, prefix: keyPrefix}
}

func (a *S3Adapter) objectKey(key Key) string {
	return a.prefix + strings.Join(key, "/")
}

func (a *S3Adapter) Set(ctx context.Context, key Key, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	now := nowMillis()
	e := Entry{Data: raw, CreatedAt: now, UpdatedAt: now}
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl).UnixMilli()
	}
	packed, err := packEntry(e)
	if err != nil {
		return err
	}
	_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
		Body:   bytes.NewReader([]byte(packed)),
	})
	return err
}

func (a *S3Adapter) Get(ctx context.Context, key Key, out interface{}) (*Entry, bool, error) {
	resp, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	e, err := decodeEntry(string(body))
	if err != nil {
		return nil, false, err
	}
	if e.expired(time.Now()) {
		_ = a.Delete(ctx, key)
		return nil, false, nil
	}
	if err := decode(e.Data, out); err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

func (a *S3Adapter) Delete(ctx context.Context, key Key) error {
	_, err := a.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	return err
}

func (a *S3Adapter) List(ctx context.Context, opts ListOptions) ([]ListItem, error) {
	prefix := a.prefix
	if len(opts.Prefix) > 0 {
		prefix += strings.Join(opts.Prefix, "/")
	}
	var items []ListItem
	err := a.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			relKey := strings.TrimPrefix(aws.StringValue(obj.Key), a.prefix)
			items = append(items, ListItem{Key: strings.Split(relKey, "/")})
		}
		return opts.Limit == 0 || len(items) < opts.Limit
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.Join(items[i].Key, "/") < strings.Join(items[j].Key, "/")
	})
	if opts.Reverse {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items, nil
}

// ClearExpired fetches every object's envelope to check expiry; archival
// buckets are expected to be small relative to the primary cache, so this
// is run on a slow periodic schedule rather than per-request.
func (a *S3Adapter) ClearExpired(ctx context.Context) (int, error) {
	items, err := a.List(ctx, ListOptions{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, it := range items {
		var discard struct{}
		e, ok, err := a.Get(ctx, it.Key, &discard)
		if err != nil || !ok {
			continue
		}
		if e.expired(time.Now()) {
			if err := a.Delete(ctx, it.Key); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (a *S3Adapter) GetStats(ctx context.Context) (Stats, error) {
	items, err := a.List(ctx, ListOptions{})
	if err != nil {
		return Stats{}, err
	}
	return Stats{EntryCount: len(items)}, nil
}

func (a *S3Adapter) Close() error { return nil }

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}

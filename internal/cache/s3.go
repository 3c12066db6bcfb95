package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const capturedAtMetaKey = "captured_at"

// S3Store lays versions out as object key prefixes: <version>/<escaped key>.
// The gob-encoded entry is the object body; CapturedAt is mirrored into
// object metadata so sweeps can run on HeadObject alone.
type S3Store struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
}

func NewS3Store(bucket string, client *s3.Client) *S3Store {
	return &S3Store{
		bucket:   bucket,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (s *S3Store) objectKey(version, key string) string {
	return version + "/" + url.PathEscape(key)
}

func (s *S3Store) Open(_ context.Context, version string) (Handle, error) {
	// Prefixes need no explicit creation.
	return &s3Handle{store: s, version: version}, nil
}

func (s *S3Store) DeleteVersion(ctx context.Context, version string) error {
	keys, err := s.listObjectKeys(ctx, version+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Store) ListVersions(ctx context.Context) ([]string, error) {
	var out []string
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, p := range page.CommonPrefixes {
			out = append(out, strings.TrimSuffix(aws.ToString(p.Prefix), "/"))
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}
	return out, nil
}

func (s *S3Store) listObjectKeys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			out = append(out, aws.ToString(obj.Key))
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}
	return out, nil
}

type s3Handle struct {
	store   *S3Store
	version string
}

func (h *s3Handle) Version() string { return h.version }

func (h *s3Handle) Match(ctx context.Context, key string) (Entry, error) {
	s := h.store
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(h.version, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return Entry{}, err
	}
	return decodeEntry(body)
}

func (h *s3Handle) Put(ctx context.Context, key string, ent Entry) error {
	if !Cacheable(key, ent) {
		return nil
	}
	b, err := encodeEntry(ent)
	if err != nil {
		return err
	}

	meta := map[string]string{}
	if !ent.CapturedAt.IsZero() {
		meta[capturedAtMetaKey] = strconv.FormatInt(ent.CapturedAt.Unix(), 10)
	}

	s := h.store
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.objectKey(h.version, key)),
		Body:     bytes.NewReader(b),
		Metadata: meta,
	})
	return err
}

func (h *s3Handle) SweepExpired(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	s := h.store
	cutoff := now.Add(-maxAge)
	keys, err := s.listObjectKeys(ctx, h.version+"/")
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return removed, err
		}
		capturedAt := parseCapturedAt(head.Metadata)
		if !capturedAt.Before(cutoff) {
			continue
		}
		_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func parseCapturedAt(meta map[string]string) time.Time {
	if meta == nil {
		return time.Time{}
	}
	val, ok := meta[capturedAtMetaKey]
	if !ok {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

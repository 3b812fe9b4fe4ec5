// Package s3 implements fsadapter.Filesystem against an S3-compatible
// object store, the driver the teacher's go.mod already declared
// dependencies for (aws-sdk-go-v2, its s3 service client, and the
// s3manager multipart uploader) but never wired — internal/vault's
// factory.go stubs it with "s3 vault not yet implemented"
// (internal/vault/factory.go). This package finally exercises that
// stack, as an additional driver spec.md §4.7 permits beyond the named
// Local/WebDAV pair.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/fsadapter"
)

// Filesystem is an S3-compatible fsadapter.Filesystem, objects keyed
// by Prefix + relative path under Bucket.
type Filesystem struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	retry    fsadapter.RetryPolicy
}

var _ fsadapter.Filesystem = (*Filesystem)(nil)

// Options configures a new Filesystem.
type Options struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	RetryPolicy     fsadapter.RetryPolicy
}

// New creates a Filesystem. If AccessKeyID is set, static credentials
// are used; otherwise the default AWS credential chain applies.
func New(ctx context.Context, opts Options) (*Filesystem, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, cuberr.New(cuberr.KindConfig, fmt.Errorf("loading AWS config: %w", err))
	}

	client := s3.NewFromConfig(cfg)
	retry := opts.RetryPolicy
	if retry.MaxAttempts == 0 {
		retry = fsadapter.DefaultRetryPolicy()
	}

	return &Filesystem{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		retry:    retry,
	}, nil
}

func (f *Filesystem) key(name string) string {
	name = strings.TrimLeft(name, "/")
	if f.prefix == "" {
		return name
	}
	return f.prefix + "/" + name
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &notFound)
}

func isPermanentAWSError(err error) bool {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		status := re.HTTPStatusCode()
		return status == 401 || status == 403 || (status >= 400 && status < 500 && status != 429)
	}
	return false
}

func wrapAWSErr(op, name string, err error) error {
	if isNotFound(err) {
		return cuberr.New(cuberr.KindNotFound, err).WithPath(name)
	}
	if isPermanentAWSError(err) {
		return cuberr.New(cuberr.KindAuth, err).WithPath(name)
	}
	return cuberr.New(cuberr.KindIO, fmt.Errorf("%s %s: %w", op, name, err)).WithPath(name)
}

func retryableErr(err error) error {
	if isNotFound(err) || isPermanentAWSError(err) {
		return &fsadapter.Permanent{Err: err}
	}
	return err
}

// OpenRead implements fsadapter.Filesystem.
func (f *Filesystem) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := f.retry.Do(ctx, func(attempt int) error {
		out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: &f.bucket,
			Key:    strPtr(f.key(name)),
		})
		if err != nil {
			return retryableErr(err)
		}
		body = out.Body
		return nil
	})
	if err != nil {
		return nil, wrapAWSErr("GetObject", name, err)
	}
	return body, nil
}

// OpenWriteTemp implements fsadapter.Filesystem. S3 PUT is already
// atomic at the object-visibility level, so the "temp" object is
// simply buffered in memory and uploaded directly to name on Finalize
// — there is no partial-object visibility window to avoid.
func (f *Filesystem) OpenWriteTemp(ctx context.Context, name string) (fsadapter.WriteHandle, error) {
	return &writeHandle{fs: f, name: name}, nil
}

// Stat implements fsadapter.Filesystem.
func (f *Filesystem) Stat(ctx context.Context, name string) (fsadapter.ObjectInfo, error) {
	var info fsadapter.ObjectInfo
	err := f.retry.Do(ctx, func(attempt int) error {
		out, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: &f.bucket,
			Key:    strPtr(f.key(name)),
		})
		if err != nil {
			return retryableErr(err)
		}
		size := int64(0)
		if out.ContentLength != nil {
			size = *out.ContentLength
		}
		var modTime time.Time
		if out.LastModified != nil {
			modTime = *out.LastModified
		}
		info = fsadapter.ObjectInfo{Name: name, Size: size, ModTime: modTime}
		return nil
	})
	if err != nil {
		return fsadapter.ObjectInfo{}, wrapAWSErr("HeadObject", name, err)
	}
	return info, nil
}

// List implements fsadapter.Filesystem via paginated ListObjectsV2.
func (f *Filesystem) List(ctx context.Context, prefix string) ([]fsadapter.ObjectInfo, error) {
	var out []fsadapter.ObjectInfo
	fullPrefix := f.key(prefix)

	err := f.retry.Do(ctx, func(attempt int) error {
		out = out[:0]
		paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
			Bucket: &f.bucket,
			Prefix: &fullPrefix,
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return retryableErr(err)
			}
			for _, obj := range page.Contents {
				name := strings.TrimPrefix(*obj.Key, f.prefix+"/")
				size := int64(0)
				if obj.Size != nil {
					size = *obj.Size
				}
				var modTime time.Time
				if obj.LastModified != nil {
					modTime = *obj.LastModified
				}
				out = append(out, fsadapter.ObjectInfo{Name: name, Size: size, ModTime: modTime})
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapAWSErr("ListObjectsV2", prefix, err)
	}
	return out, nil
}

// Remove implements fsadapter.Filesystem. S3 DeleteObject is
// idempotent: deleting a missing key is not an error.
func (f *Filesystem) Remove(ctx context.Context, name string) error {
	err := f.retry.Do(ctx, func(attempt int) error {
		_, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &f.bucket,
			Key:    strPtr(f.key(name)),
		})
		if err != nil {
			return retryableErr(err)
		}
		return nil
	})
	if err != nil {
		return wrapAWSErr("DeleteObject", name, err)
	}
	return nil
}

// EnsureDir implements fsadapter.Filesystem as a no-op: S3 is a flat
// object store with no directory concept.
func (f *Filesystem) EnsureDir(ctx context.Context, name string) error {
	return nil
}

type writeHandle struct {
	fs   *Filesystem
	name string
	buf  bytes.Buffer
	done bool
}

func (w *writeHandle) Write(p []byte) (int, error) { return w.buf.Write(p) }

// Finalize uploads the buffered bytes via the multipart manager.
// Uploader, which transparently switches to multipart PUT above its
// part-size threshold — the reason the teacher's go.mod already
// carried feature/s3/manager alongside the bare client.
func (w *writeHandle) Finalize(ctx context.Context) error {
	if w.done {
		return nil
	}
	key := w.fs.key(w.name)
	_, err := w.fs.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &w.fs.bucket,
		Key:    &key,
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return wrapAWSErr("PutObject", w.name, err)
	}
	w.done = true
	return nil
}

// Discard drops the buffered bytes without uploading anything.
func (w *writeHandle) Discard(ctx context.Context) error {
	w.done = true
	w.buf.Reset()
	return nil
}

func strPtr(s string) *string { return &s }

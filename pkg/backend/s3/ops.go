package s3

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittoclient/pkg/backend"
)

const (
	filePerm = 0644
	dirPerm  = 0755
)

func (b *Backend) fileAttr(path string, size *int64, modTime *time.Time, owner string) backend.Attr {
	a := backend.Attr{
		Name:      backend.Base(path),
		Path:      path,
		Mode:      filePerm,
		BlockSize: b.partSize,
		Owner:     owner,
	}
	if size != nil {
		a.Size = *size
	}
	if modTime != nil {
		a.ModTime = *modTime
	}
	return a
}

func (b *Backend) dirAttr(path string) backend.Attr {
	return backend.Attr{
		Name:      backend.Base(path),
		Path:      path,
		Mode:      fs.ModeDir | dirPerm,
		BlockSize: b.partSize,
	}
}

// headObject returns the object at key, or nil when it does not exist.
func (b *Backend) headObject(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	start := time.Now()
	out, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	b.observe("HeadObject", start, err)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (b *Backend) listObjects(ctx context.Context, input *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
	start := time.Now()
	out, err := b.api.ListObjectsV2(ctx, input)
	b.observe("ListObjectsV2", start, err)
	return out, err
}

// dirExists reports whether anything lives under path's key prefix,
// marker included.
func (b *Backend) dirExists(ctx context.Context, path string) (bool, error) {
	if path == "/" {
		return true, nil
	}
	out, err := b.listObjects(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.dirKey(path)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

// checkParent verifies that the parent of path is an existing directory.
func (b *Backend) checkParent(ctx context.Context, path string) error {
	dir, _ := backend.Split(path)
	if dir == "/" {
		return nil
	}
	obj, err := b.headObject(ctx, b.objectKey(dir))
	if err != nil {
		return err
	}
	if obj != nil {
		return backend.ErrNotDir
	}
	ok, err := b.dirExists(ctx, dir)
	if err != nil {
		return err
	}
	if !ok {
		return backend.ErrNotFound
	}
	return nil
}

func (b *Backend) stat(ctx context.Context, path string) (backend.Attr, error) {
	if path == "/" {
		return b.dirAttr(path), nil
	}
	obj, err := b.headObject(ctx, b.objectKey(path))
	if err != nil {
		return backend.Attr{}, err
	}
	if obj != nil {
		return b.fileAttr(path, obj.ContentLength, obj.LastModified, obj.Metadata[ownerMetadataKey]), nil
	}
	ok, err := b.dirExists(ctx, path)
	if err != nil {
		return backend.Attr{}, err
	}
	if !ok {
		return backend.Attr{}, backend.ErrNotFound
	}
	return b.dirAttr(path), nil
}

func (b *Backend) Stat(ctx context.Context, path string) (backend.Attr, error) {
	if err := b.check(ctx); err != nil {
		return backend.Attr{}, err
	}
	a, err := b.stat(ctx, path)
	if err != nil {
		return backend.Attr{}, fmt.Errorf("stat %s: %w", path, mapError(err))
	}
	return a, nil
}

func (b *Backend) ReadDir(ctx context.Context, path string) ([]backend.Attr, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	entries, err := b.readDir(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, mapError(err))
	}
	return entries, nil
}

func (b *Backend) readDir(ctx context.Context, path string) ([]backend.Attr, error) {
	prefix := b.dirKey(path)
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	if b.pageSize > 0 {
		input.MaxKeys = aws.Int32(b.pageSize)
	}

	var (
		entries []backend.Attr
		found   bool
	)
	paginator := s3.NewListObjectsV2Paginator(b.api, input)
	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		b.observe("ListObjectsV2", start, err)
		if err != nil {
			return nil, err
		}

		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			found = true
			entries = append(entries, b.dirAttr(joinPath(path, name)))
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			found = true
			if name == "" {
				// The directory's own marker.
				continue
			}
			entries = append(entries, b.fileAttr(joinPath(path, name), obj.Size, obj.LastModified, ""))
		}
	}

	if found || path == "/" {
		return entries, nil
	}
	obj, err := b.headObject(ctx, b.objectKey(path))
	if err != nil {
		return nil, err
	}
	if obj != nil {
		return nil, backend.ErrNotDir
	}
	return nil, backend.ErrNotFound
}

func (b *Backend) Mkdir(ctx context.Context, path string, perm fs.FileMode) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	if err := b.mkdir(ctx, path); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, mapError(err))
	}
	return nil
}

func (b *Backend) mkdir(ctx context.Context, path string) error {
	if _, err := b.stat(ctx, path); err == nil {
		return backend.ErrExists
	} else if !isSentinel(err, backend.ErrNotFound) {
		return err
	}
	if err := b.checkParent(ctx, path); err != nil {
		return err
	}

	start := time.Now()
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(b.dirKey(path)),
		Body:     strings.NewReader(""),
		Metadata: b.metadata(),
	})
	b.observe("PutObject", start, err)
	return err
}

func (b *Backend) metadata() map[string]string {
	if b.principal == "" {
		return nil
	}
	return map[string]string{ownerMetadataKey: b.principal}
}

func (b *Backend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	if path == "/" {
		return nil, fmt.Errorf("open %s: %w", path, backend.ErrIsDir)
	}

	start := time.Now()
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(path)),
	})
	b.observe("GetObject", start, err)
	if err != nil {
		if isNotFound(err) {
			if ok, dirErr := b.dirExists(ctx, path); dirErr == nil && ok {
				return nil, fmt.Errorf("open %s: %w", path, backend.ErrIsDir)
			}
		}
		return nil, fmt.Errorf("open %s: %w", path, mapError(err))
	}
	return &reader{body: out.Body, path: path}, nil
}

func (b *Backend) Create(ctx context.Context, path string, perm fs.FileMode) (io.WriteCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	if path == "/" {
		return nil, fmt.Errorf("create %s: %w", path, backend.ErrIsDir)
	}
	ok, err := b.dirExists(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, mapError(err))
	}
	if ok {
		return nil, fmt.Errorf("create %s: %w", path, backend.ErrIsDir)
	}
	if err := b.checkParent(ctx, path); err != nil {
		return nil, fmt.Errorf("create %s: %w", path, mapError(err))
	}
	return newWriter(ctx, b, path), nil
}

func (b *Backend) deleteObject(ctx context.Context, key string) error {
	start := time.Now()
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	b.observe("DeleteObject", start, err)
	return err
}

func (b *Backend) Remove(ctx context.Context, path string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	if path == "/" {
		return fmt.Errorf("remove %s: %w", path, backend.ErrPermission)
	}
	if err := b.remove(ctx, path); err != nil {
		return fmt.Errorf("remove %s: %w", path, mapError(err))
	}
	return nil
}

func (b *Backend) remove(ctx context.Context, path string) error {
	key := b.objectKey(path)
	obj, err := b.headObject(ctx, key)
	if err != nil {
		return err
	}
	if obj != nil {
		return b.deleteObject(ctx, key)
	}

	// Directory: only the marker may remain.
	prefix := b.dirKey(path)
	out, err := b.listObjects(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(2),
	})
	if err != nil {
		return err
	}
	if len(out.CommonPrefixes) == 0 && len(out.Contents) == 0 {
		return backend.ErrNotFound
	}
	if len(out.CommonPrefixes) > 0 {
		return backend.ErrNotEmpty
	}
	for _, o := range out.Contents {
		if aws.ToString(o.Key) != prefix {
			return backend.ErrNotEmpty
		}
	}
	return b.deleteObject(ctx, prefix)
}

// RemoveAll deletes path and every key below it with batched DeleteObjects
// calls. The root keeps existing; only its contents go.
func (b *Backend) RemoveAll(ctx context.Context, path string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	if err := b.removeAll(ctx, path); err != nil {
		return fmt.Errorf("remove %s: %w", path, mapError(err))
	}
	return nil
}

func (b *Backend) removeAll(ctx context.Context, path string) error {
	var keys []string
	if path != "/" {
		obj, err := b.headObject(ctx, b.objectKey(path))
		if err != nil {
			return err
		}
		if obj != nil {
			keys = append(keys, b.objectKey(path))
		}
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.dirKey(path)),
	}
	if b.pageSize > 0 {
		input.MaxKeys = aws.Int32(b.pageSize)
	}
	paginator := s3.NewListObjectsV2Paginator(b.api, input)
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		b.observe("ListObjectsV2", start, err)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	if len(keys) == 0 && path != "/" {
		return backend.ErrNotFound
	}
	return b.deleteKeys(ctx, keys)
}

func (b *Backend) deleteKeys(ctx context.Context, keys []string) error {
	for i := 0; i < len(keys); i += maxDeleteBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := keys[i:min(i+maxDeleteBatch, len(keys))]

		objects := make([]types.ObjectIdentifier, len(batch))
		for j, key := range batch {
			objects[j] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		start := time.Now()
		out, err := b.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		b.observe("DeleteObjects", start, err)
		if err != nil {
			return err
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("delete %d objects failed, first %s: %s: %s",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Code), aws.ToString(first.Message))
		}
	}
	return nil
}

func isSentinel(err, sentinel error) bool {
	return err == sentinel || sentinelFor(err) == sentinel
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

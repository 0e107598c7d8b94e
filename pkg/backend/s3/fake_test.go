package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data     []byte
	metadata map[string]string
	modTime  time.Time
}

// fakeAPI is an in-memory bucket implementing API.
type fakeAPI struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]fakeObject
	uploads map[string]map[int32][]byte
	nextID  int
	calls   map[string]int
	fail    map[string]error
}

func newFakeAPI(bucket string) *fakeAPI {
	return &fakeAPI{
		bucket:  bucket,
		objects: make(map[string]fakeObject),
		uploads: make(map[string]map[int32][]byte),
		calls:   make(map[string]int),
		fail:    make(map[string]error),
	}
}

// enter records a call and returns the injected failure for op, if any.
func (f *fakeAPI) enter(op string, bucket *string) error {
	f.calls[op]++
	if err := f.fail[op]; err != nil {
		return err
	}
	if aws.ToString(bucket) != f.bucket {
		return &types.NoSuchBucket{Message: aws.String("no such bucket")}
	}
	return nil
}

func (f *fakeAPI) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakeAPI) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeAPI) Uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeAPI) put(key string, data []byte, metadata map[string]string) {
	f.objects[key] = fakeObject{data: data, metadata: metadata, modTime: time.Now()}
}

func (f *fakeAPI) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["HeadBucket"]++
	if err := f.fail["HeadBucket"]; err != nil {
		return nil, err
	}
	if aws.ToString(params.Bucket) != f.bucket {
		return nil, &types.NotFound{Message: aws.String("not found")}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("HeadObject", params.Bucket); err != nil {
		return nil, err
	}
	obj, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{Message: aws.String("not found")}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.modTime),
		Metadata:      obj.metadata,
	}, nil
}

func (f *fakeAPI) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetObject", params.Bucket); err != nil {
		return nil, err
	}
	obj, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (f *fakeAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutObject", params.Bucket); err != nil {
		return nil, err
	}
	f.put(aws.ToString(params.Key), data, params.Metadata)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteObject", params.Bucket); err != nil {
		return nil, err
	}
	delete(f.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteObjects", params.Bucket); err != nil {
		return nil, err
	}
	if len(params.Delete.Objects) > maxDeleteBatch {
		return nil, fmt.Errorf("too many keys: %d", len(params.Delete.Objects))
	}
	for _, obj := range params.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

// ListObjectsV2 pages through keys and collapsed common prefixes in key
// order. The continuation token is the last item of the previous page.
func (f *fakeAPI) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListObjectsV2", params.Bucket); err != nil {
		return nil, err
	}

	prefix := aws.ToString(params.Prefix)
	delimiter := aws.ToString(params.Delimiter)
	token := aws.ToString(params.ContinuationToken)
	maxKeys := int(aws.ToInt32(params.MaxKeys))
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	seen := make(map[string]bool)
	var items []string
	for key := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		item := key
		if delimiter != "" {
			if i := strings.Index(key[len(prefix):], delimiter); i >= 0 {
				item = key[:len(prefix)+i+len(delimiter)]
			}
		}
		if !seen[item] {
			seen[item] = true
			items = append(items, item)
		}
	}
	sort.Strings(items)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	count := 0
	for i, item := range items {
		if token != "" && item <= token {
			continue
		}
		if count == maxKeys {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(items[i-1])
			break
		}
		count++
		if obj, ok := f.objects[item]; ok && (delimiter == "" || !strings.HasSuffix(item, delimiter) || item == prefix) {
			out.Contents = append(out.Contents, types.Object{
				Key:          aws.String(item),
				Size:         aws.Int64(int64(len(obj.data))),
				LastModified: aws.Time(obj.modTime),
			})
		} else {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(item)})
		}
	}
	out.KeyCount = aws.Int32(int32(count))
	return out, nil
}

func (f *fakeAPI) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateMultipartUpload", params.Bucket); err != nil {
		return nil, err
	}
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeAPI) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UploadPart", params.Bucket); err != nil {
		return nil, err
	}
	parts, ok := f.uploads[aws.ToString(params.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{Message: aws.String("no such upload")}
	}
	number := aws.ToInt32(params.PartNumber)
	parts[number] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", number))}, nil
}

func (f *fakeAPI) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CompleteMultipartUpload", params.Bucket); err != nil {
		return nil, err
	}
	id := aws.ToString(params.UploadId)
	parts, ok := f.uploads[id]
	if !ok {
		return nil, &types.NoSuchUpload{Message: aws.String("no such upload")}
	}

	var data []byte
	for i, p := range params.MultipartUpload.Parts {
		number := aws.ToInt32(p.PartNumber)
		if number != int32(i+1) || aws.ToString(p.ETag) != fmt.Sprintf("etag-%d", number) {
			return nil, fmt.Errorf("invalid part %d", number)
		}
		data = append(data, parts[number]...)
	}
	delete(f.uploads, id)
	f.put(aws.ToString(params.Key), data, nil)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeAPI) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AbortMultipartUpload", params.Bucket); err != nil {
		return nil, err
	}
	delete(f.uploads, aws.ToString(params.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

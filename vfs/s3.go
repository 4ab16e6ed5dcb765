package vfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quarrydev/fileops/pathaddr"
)

// ensure interface is implemented
var _ FileSystem = (*S3FS)(nil)

// S3FS implements FileSystem for S3-compatible object stores. The host
// component of an address names the bucket and the path maps to the key.
type S3FS struct {
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3FS creates an S3FS using the default AWS credential chain.
func NewS3FS(ctx context.Context) (*S3FS, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3FS{
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

// splitAddr maps an address onto its bucket and object key.
func splitAddr(addr pathaddr.Address) (bucket, key string) {
	return addr.Host(), strings.TrimPrefix(addr.Path(), "/")
}

// copySource builds the URL-encoded bucket/key form CopyObject expects.
// Keys may contain characters like '?' or '#' that must not reach the
// request path raw, so each segment is escaped individually.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func (p *S3FS) Stat(ctx context.Context, addr pathaddr.Address) (Entry, error) {
	bucket, key := splitAddr(addr)

	// exact match
	headOut, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		var modTime time.Time
		if headOut.LastModified != nil {
			modTime = *headOut.LastModified
		}
		var size int64
		if headOut.ContentLength != nil {
			size = *headOut.ContentLength
		}
		return Entry{
			Name:    path.Base(key),
			Size:    size,
			Dir:     strings.HasSuffix(key, "/"),
			ModTime: modTime,
		}, nil
	}

	// maybe a directory? Check the prefix.
	dirPrefix := key + "/"
	if key == "" {
		dirPrefix = ""
	}

	listOut, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(dirPrefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return Entry{}, fmt.Errorf("stat failed for %q: %w", addr.String(), err)
	}

	if len(listOut.Contents) > 0 || len(listOut.CommonPrefixes) > 0 {
		return Entry{Name: path.Base(key), Dir: true}, nil
	}

	return Entry{}, fmt.Errorf("%s: %w", addr.String(), fs.ErrNotExist)
}

func (p *S3FS) List(ctx context.Context, addr pathaddr.Address) ([]Entry, error) {
	bucket, dirPrefix := splitAddr(addr)
	if dirPrefix != "" && !strings.HasSuffix(dirPrefix, "/") {
		dirPrefix += "/"
	}

	var entries []Entry
	var continuationToken *string

	for {
		out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(dirPrefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", addr.String(), err)
		}

		// Common prefixes come back as directories.
		for _, cp := range out.CommonPrefixes {
			name := strings.TrimPrefix(*cp.Prefix, dirPrefix)
			name = strings.TrimSuffix(name, "/")
			entries = append(entries, Entry{Name: name, Dir: true})
		}

		for _, obj := range out.Contents {
			name := strings.TrimPrefix(*obj.Key, dirPrefix)
			if name == "" { // sometimes the dir itself is in the results
				continue
			}
			isDir := strings.HasSuffix(name, "/")
			if isDir {
				name = strings.TrimSuffix(name, "/")
			}

			var modTime time.Time
			if obj.LastModified != nil {
				modTime = *obj.LastModified
			}
			var size int64
			if obj.Size != nil {
				size = *obj.Size
			}

			entries = append(entries, Entry{
				Name:    name,
				Size:    size,
				Dir:     isDir,
				ModTime: modTime,
			})
		}

		if out.IsTruncated != nil && *out.IsTruncated {
			continuationToken = out.NextContinuationToken
		} else {
			break
		}
	}

	return entries, nil
}

func (p *S3FS) OpenRead(ctx context.Context, addr pathaddr.Address) (io.ReadCloser, error) {
	bucket, key := splitAddr(addr)
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open read %q: %w", addr.String(), err)
	}
	return out.Body, nil
}

func (p *S3FS) OpenWrite(ctx context.Context, addr pathaddr.Address, meta *Entry) (io.WriteCloser, error) {
	bucket, key := splitAddr(addr)

	if meta != nil && meta.Dir {
		if err := p.putPlaceholder(ctx, bucket, key); err != nil {
			return nil, err
		}
		return &discardWriter{}, nil
	}

	pr, pw := io.Pipe()
	errChan := make(chan error, 1)

	go func() {
		_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		pr.CloseWithError(err)
		errChan <- err
	}()

	return &asyncS3Writer{pw: pw, errChan: errChan}, nil
}

// putPlaceholder writes the zero-byte "key/" object that stands in for a
// directory.
func (p *S3FS) putPlaceholder(ctx context.Context, bucket, key string) error {
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return fmt.Errorf("failed to write directory placeholder: %w", err)
	}
	return nil
}

func (p *S3FS) Mkdir(ctx context.Context, addr pathaddr.Address) error {
	bucket, key := splitAddr(addr)
	return p.putPlaceholder(ctx, bucket, key)
}

func (p *S3FS) Rename(ctx context.Context, oldAddr, newAddr pathaddr.Address) error {
	srcBucket, srcKey := splitAddr(oldAddr)
	dstBucket, dstKey := splitAddr(newAddr)

	info, err := p.Stat(ctx, oldAddr)
	if err != nil {
		return err
	}
	// Renaming a prefix would need a copy per object underneath it;
	// let the caller fall back to copy+delete.
	if info.Dir {
		return ErrNotSupported
	}

	_, err = p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(srcBucket, srcKey)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %q: %w", oldAddr.String(), err)
	}

	_, err = p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(srcBucket),
		Key:    aws.String(srcKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q after copy: %w", oldAddr.String(), err)
	}
	return nil
}

func (p *S3FS) Remove(ctx context.Context, addr pathaddr.Address) error {
	bucket, key := splitAddr(addr)

	info, err := p.Stat(ctx, addr)
	if err == nil && info.Dir && !strings.HasSuffix(key, "/") {
		key += "/"
	}

	_, err = p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to remove %q: %w", addr.String(), err)
	}
	return nil
}

// Trash has no equivalent in object storage.
func (p *S3FS) Trash(ctx context.Context, addr pathaddr.Address) error {
	return ErrNotSupported
}

// Mount is a no-op; credentials come from the AWS credential chain.
func (p *S3FS) Mount(ctx context.Context, addr pathaddr.Address, auth AuthFunc) error {
	return nil
}

type asyncS3Writer struct {
	pw      *io.PipeWriter
	errChan <-chan error
}

func (w *asyncS3Writer) Write(p []byte) (n int, err error) {
	return w.pw.Write(p)
}

func (w *asyncS3Writer) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	// Wait for the upload to complete
	if err := <-w.errChan; err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}

type discardWriter struct{}

func (w *discardWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func (w *discardWriter) Close() error {
	return nil
}

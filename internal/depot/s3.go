package depot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

const digestMetadataKey = "gonk-digest"

// S3 stores blobs in an S3 bucket under <prefix>/<uuid>/<version>, with the
// declared digest carried as object metadata and re-verified on read.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// S3Options configures the S3 depot. AccessKey/SecretKey are optional; when
// empty the default AWS credential chain applies.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3 creates an S3 depot for the given bucket.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 depot requires a bucket")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
	}, nil
}

func (d *S3) key(id gonk.Identifier) string {
	return path.Join(d.prefix, id.UUID.String(), strconv.Itoa(id.Version))
}

func (d *S3) Write(id gonk.Identifier, r io.Reader, size int64, digest string) error {
	ctx := context.Background()

	head, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(id)),
	})
	if err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("reading blob: %w", err)
		}
		if written != size {
			return gonk.Integrityf("size", "expected %d bytes, got %d", size, written)
		}
		if head.Metadata[digestMetadataKey] != digest {
			return gonk.Integrityf("digest", "identifier already holds different bytes")
		}
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("checking blob %s: %w", id, err)
	}

	h := sha256.New()
	_, err = d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(d.bucket),
		Key:      aws.String(d.key(id)),
		Body:     io.TeeReader(io.LimitReader(r, size), h),
		Metadata: map[string]string{digestMetadataKey: digest},
	})
	if err != nil {
		return fmt.Errorf("uploading blob %s: %w", id, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != digest {
		// The digest lies; drop the object rather than serve bad bytes.
		d.Purge(id)
		return gonk.Integrityf("digest", "bytes hash to %s, declared %s", got, digest)
	}
	return nil
}

func (d *S3) Read(id gonk.Identifier, w io.Writer) error {
	ctx := context.Background()
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return gonk.NotFoundf("blob", "%s", id)
		}
		return fmt.Errorf("fetching blob %s: %w", id, err)
	}
	defer out.Body.Close()

	digest := out.Metadata[digestMetadataKey]
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(w, h), out.Body); err != nil {
		return fmt.Errorf("reading blob %s: %w", id, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != digest {
		return gonk.Integrityf("digest", "blob %s hashes to %s, recorded %s", id, got, digest)
	}
	return nil
}

func (d *S3) Exists(id gonk.Identifier) (bool, error) {
	_, err := d.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(id)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking blob %s: %w", id, err)
	}
	return true, nil
}

func (d *S3) Purge(id gonk.Identifier) error {
	_, err := d.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(id)),
	})
	if err != nil {
		return fmt.Errorf("removing blob %s: %w", id, err)
	}
	return nil
}

var _ gonk.Depot = (*S3)(nil)

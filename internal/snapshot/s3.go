package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/watzon/targethook/internal/config"
)

var (
	ErrNotFound      = errors.New("snapshot not found")
	ErrInvalidConfig = errors.New("invalid s3 configuration")
	ErrInvalidURL    = errors.New("invalid s3 url")
)

// Location is a parsed s3://bucket/key reference.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// IsRemote reports whether path names an S3 object rather than a local file.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// ParseLocation parses an s3://bucket/key URL. The key must carry a snapshot
// extension so the format can be inferred.
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "s3" {
		return Location{}, fmt.Errorf("%w: scheme must be s3", ErrInvalidURL)
	}

	loc := Location{
		Bucket: u.Host,
		Key:    strings.TrimPrefix(u.Path, "/"),
	}
	if loc.Bucket == "" || loc.Key == "" {
		return Location{}, fmt.Errorf("%w: %q needs a bucket and a key", ErrInvalidURL, raw)
	}
	if _, _, err := FormatFromPath(loc.Key); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// S3Store reads and writes snapshots in an S3-compatible object store.
type S3Store struct {
	client       *s3.Client
	bucketPrefix string
}

// NewS3Store builds a client from static credentials in cfg.
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("%w: region is required", ErrInvalidConfig)
	}
	if cfg.AccessKeyID == "" {
		return nil, fmt.Errorf("%w: access_key_id is required", ErrInvalidConfig)
	}
	if cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("%w: secret_access_key is required", ErrInvalidConfig)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Store{
		client:       client,
		bucketPrefix: cfg.BucketPrefix,
	}, nil
}

func (s *S3Store) bucketName(bucket string) string {
	return s.bucketPrefix + bucket
}

// Put encodes snap and uploads it to loc.
func (s *S3Store) Put(ctx context.Context, loc Location, snap *Snapshot) error {
	format, compressed, err := FormatFromPath(loc.Key)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := encodeStream(&buf, snap, format, compressed); err != nil {
		return err
	}
	size := buf.Len()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName(loc.Bucket)),
		Key:           aws.String(loc.Key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(size)),
	})
	if err != nil {
		return fmt.Errorf("putting object: %w", err)
	}

	log.Debug().Str("location", loc.String()).Int("bytes", size).Msg("Snapshot uploaded")
	return nil
}

// Get downloads and decodes the snapshot at loc.
func (s *S3Store) Get(ctx context.Context, loc Location) (*Snapshot, error) {
	format, compressed, err := FormatFromPath(loc.Key)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName(loc.Bucket)),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
		return nil, fmt.Errorf("getting object: %w", err)
	}
	defer resp.Body.Close()

	return decodeStream(resp.Body, format, compressed)
}

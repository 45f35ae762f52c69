package snapshot

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/targethook/internal/config"
	"github.com/watzon/targethook/internal/targeting"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		raw     string
		want    Location
		wantErr error
	}{
		{"s3://backups/targeting/dump.json", Location{Bucket: "backups", Key: "targeting/dump.json"}, nil},
		{"s3://backups/dump.yaml.zst", Location{Bucket: "backups", Key: "dump.yaml.zst"}, nil},
		{"s3://backups/", Location{}, ErrInvalidURL},
		{"s3:///dump.json", Location{}, ErrInvalidURL},
		{"file:///tmp/dump.json", Location{}, ErrInvalidURL},
		{"s3://backups/dump.txt", Location{}, ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseLocation(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.raw, got.String())
		})
	}
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("s3://bucket/dump.json"))
	assert.False(t, IsRemote("dump.json"))
	assert.False(t, IsRemote("/var/backups/s3/dump.json"))
}

func TestNewS3StoreValidation(t *testing.T) {
	valid := config.S3Config{
		Region:          "us-east-1",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	}

	tests := []struct {
		name   string
		mutate func(*config.S3Config)
	}{
		{"missing region", func(c *config.S3Config) { c.Region = "" }},
		{"missing access key", func(c *config.S3Config) { c.AccessKeyID = "" }},
		{"missing secret", func(c *config.S3Config) { c.SecretAccessKey = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := NewS3Store(context.Background(), cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	store, err := NewS3Store(context.Background(), config.S3Config{
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		ForcePathStyle:  true,
		BucketPrefix:    "dev-",
	})
	require.NoError(t, err)
	assert.Equal(t, "dev-backups", store.bucketName("backups"))
}

func TestStreamRoundTripCompressed(t *testing.T) {
	snap := &Snapshot{
		Version:   CurrentVersion,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Hooks: []*targeting.Hook{{
			ID:     1,
			Owner:  targeting.NewOwnerID(),
			Slot:   "loot",
			Filter: targeting.ObjectAll,
			Uses:   2,
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, encodeStream(&buf, snap, FormatJSON, true))

	got, err := decodeStream(&buf, FormatJSON, true)
	require.NoError(t, err)
	require.Len(t, got.Hooks, 1)
	assert.Equal(t, "loot", got.Hooks[0].Slot)
	assert.Equal(t, snap.Hooks[0].Owner, got.Hooks[0].Owner)
}

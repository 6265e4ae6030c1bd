package objectstore

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/animus-labs/animus-evals/internal/platform/env"
)

// Config locates the MinIO (or S3-compatible) endpoint that receives dataset snapshot
// and experiment exports.
type Config struct {
	Endpoint          string
	AccessKey         string
	SecretKey         string
	Region            string
	UseSSL            bool
	BucketDatasets    string
	BucketExperiments string
	// KeyPrefix is prepended to every export key so several deployments can share
	// the buckets. It is stored without leading or trailing slashes.
	KeyPrefix string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("ANIMUS_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:          env.String("ANIMUS_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:         env.String("ANIMUS_MINIO_ACCESS_KEY", "animus"),
		SecretKey:         env.String("ANIMUS_MINIO_SECRET_KEY", "animusminio"),
		Region:            env.String("ANIMUS_MINIO_REGION", "us-east-1"),
		UseSSL:            useSSL,
		BucketDatasets:    env.String("ANIMUS_MINIO_BUCKET_DATASETS", "datasets"),
		BucketExperiments: env.String("ANIMUS_MINIO_BUCKET_EXPERIMENTS", "experiments"),
		KeyPrefix:         strings.Trim(env.String("ANIMUS_EXPORT_KEY_PREFIX", ""), "/"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	required := []struct {
		name, value string
	}{
		{"endpoint", c.Endpoint},
		{"access key", c.AccessKey},
		{"secret key", c.SecretKey},
		{"region", c.Region},
		{"datasets bucket", c.BucketDatasets},
		{"experiments bucket", c.BucketExperiments},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if c.BucketDatasets == c.BucketExperiments {
		return fmt.Errorf("datasets and experiments buckets must differ: %q", c.BucketDatasets)
	}
	return ValidateKeyPrefix(c.KeyPrefix)
}

// ValidateKeyPrefix rejects prefixes that would escape or reshape the export layout.
func ValidateKeyPrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if strings.HasPrefix(prefix, "/") || strings.HasSuffix(prefix, "/") {
		return fmt.Errorf("export key prefix %q must not start or end with /", prefix)
	}
	if path.Clean(prefix) != prefix {
		return fmt.Errorf("export key prefix %q is not a clean path", prefix)
	}
	for _, part := range strings.Split(prefix, "/") {
		if part == ".." || part == "." {
			return errors.New("export key prefix must not contain . or .. segments")
		}
	}
	return nil
}

// PrefixKey joins prefix and key with a slash. An empty prefix returns key unchanged.
func PrefixKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

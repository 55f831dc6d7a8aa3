package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-datafabric/internal/platform/env"
)

// Config points at the S3-compatible bucket that backs the task context store.
// Without static keys the client falls back to the AWS environment credentials
// that the Lambda runtime injects.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("DATAFABRIC_S3_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}
	region := env.String("AWS_REGION", "us-east-1")
	cfg := Config{
		Endpoint:  env.String("DATAFABRIC_S3_ENDPOINT", "s3."+region+".amazonaws.com"),
		AccessKey: env.String("DATAFABRIC_S3_ACCESS_KEY", ""),
		SecretKey: env.String("DATAFABRIC_S3_SECRET_KEY", ""),
		Region:    region,
		UseSSL:    useSSL,
		Bucket:    env.String("DATAFABRIC_BUCKET", ""),
		Prefix:    strings.Trim(env.String("DATAFABRIC_BUCKET_PREFIX", ""), "/"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return errors.New("access key and secret key must be set together")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

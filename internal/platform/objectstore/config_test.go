package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "ok", cfg: Config{Endpoint: "s3.us-east-1.amazonaws.com", Region: "us-east-1", Bucket: "b"}},
		{name: "static keys", cfg: Config{Endpoint: "localhost:9000", Region: "us-east-1", Bucket: "b", AccessKey: "a", SecretKey: "s"}},
		{name: "scheme", cfg: Config{Endpoint: "https://s3.amazonaws.com", Region: "us-east-1", Bucket: "b"}, wantErr: true},
		{name: "no bucket", cfg: Config{Endpoint: "localhost:9000", Region: "us-east-1"}, wantErr: true},
		{name: "half keys", cfg: Config{Endpoint: "localhost:9000", Region: "us-east-1", Bucket: "b", AccessKey: "a"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("Validate() expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate() err=%v", err)
			}
		})
	}
}

func TestConfigFromEnv_DefaultsEndpointFromRegion(t *testing.T) {
	t.Setenv("AWS_REGION", "ap-southeast-2")
	t.Setenv("DATAFABRIC_BUCKET", "df-context")
	t.Setenv("DATAFABRIC_BUCKET_PREFIX", "/saga/")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Endpoint != "s3.ap-southeast-2.amazonaws.com" {
		t.Fatalf("Endpoint=%q", cfg.Endpoint)
	}
	if cfg.Prefix != "saga" {
		t.Fatalf("Prefix=%q, want saga", cfg.Prefix)
	}
}

package s3

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"

	appconfig "github.com/fraud-governance/fraud-governance/internal/config"
)

func validConfig() *appconfig.S3StorageConfig {
	return &appconfig.S3StorageConfig{
		Endpoint:        "http://localhost:9000",
		Region:          "ap-south-1",
		Bucket:          "governance-artifacts",
		AuthMethod:      "static",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		UsePathStyle:    true,
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	cfg := validConfig()
	cfg.Bucket = ""
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_RequiresRegion(t *testing.T) {
	cfg := validConfig()
	cfg.Region = ""
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for missing region")
	}
}

func TestNew_UnsupportedAuthMethod(t *testing.T) {
	cfg := validConfig()
	cfg.AuthMethod = "kerberos"
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for unsupported auth method")
	}
}

func TestNew_StaticAuthRequiresKeys(t *testing.T) {
	cfg := validConfig()
	cfg.AccessKeyID = ""
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for static auth without keys")
	}
}

func TestNew_EmptyAuthMethodFallsBackToStatic(t *testing.T) {
	cfg := validConfig()
	cfg.AuthMethod = ""
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if b == nil {
		t.Fatal("New() returned nil backend")
	}
}

func TestURI(t *testing.T) {
	b, err := New(validConfig())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	got := b.URI("rulesets/prod/INDIA/IN/CARD_AUTH/v3/ruleset.json")
	want := "s3://governance-artifacts/rulesets/prod/INDIA/IN/CARD_AUTH/v3/ruleset.json"
	if got != want {
		t.Errorf("URI() = %q, want %q", got, want)
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "precondition failed api error",
			err:  &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"},
			want: true,
		},
		{
			name: "wrapped precondition failed",
			err:  fmt.Errorf("operation error S3: PutObject: %w", &smithy.GenericAPIError{Code: "PreconditionFailed"}),
			want: true,
		},
		{
			name: "other api error",
			err:  &smithy.GenericAPIError{Code: "AccessDenied"},
			want: false,
		},
		{
			name: "plain error",
			err:  errors.New("connection refused"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPreconditionFailed(tt.err); got != tt.want {
				t.Errorf("isPreconditionFailed() = %v, want %v", got, tt.want)
			}
		})
	}
}

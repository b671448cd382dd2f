package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "TAGVAULT"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "tagvault.db"
	defaultLogLevel      = "info"
	defaultTokenTTLMin   = 30
	defaultBlobProvider  = "local"
	defaultBlobLocalRoot = "blobdata"
	defaultBlobURLTTLMin = 5
	defaultBlobLocalURL  = "http://localhost:8080"

	blobProviderS3    = "s3"
	blobProviderLocal = "local"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration

	BlobProvider  string
	BlobURLTTL    time.Duration
	BlobLocalRoot string
	BlobLocalURL  string
	S3Region      string
	S3Bucket      string
	S3AccessKeyID string
	S3SecretKey   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMin)
	configViper.SetDefault("blob.provider", defaultBlobProvider)
	configViper.SetDefault("blob.url_ttl_minutes", defaultBlobURLTTLMin)
	configViper.SetDefault("blob.local.root", defaultBlobLocalRoot)
	configViper.SetDefault("blob.local.base_url", defaultBlobLocalURL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		BlobProvider:  configViper.GetString("blob.provider"),
		BlobURLTTL:    time.Duration(configViper.GetInt("blob.url_ttl_minutes")) * time.Minute,
		BlobLocalRoot: configViper.GetString("blob.local.root"),
		BlobLocalURL:  configViper.GetString("blob.local.base_url"),
		S3Region:      configViper.GetString("blob.s3.region"),
		S3Bucket:      configViper.GetString("blob.s3.bucket"),
		S3AccessKeyID: configViper.GetString("blob.s3.access_key_id"),
		S3SecretKey:   configViper.GetString("blob.s3.secret_access_key"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.BlobProvider {
	case blobProviderLocal:
		if strings.TrimSpace(c.BlobLocalRoot) == "" {
			return fmt.Errorf("blob.local.root is required for the local provider")
		}
	case blobProviderS3:
		if strings.TrimSpace(c.S3Bucket) == "" {
			return fmt.Errorf("blob.s3.bucket is required for the s3 provider")
		}
		if strings.TrimSpace(c.S3Region) == "" {
			return fmt.Errorf("blob.s3.region is required for the s3 provider")
		}
	default:
		return fmt.Errorf("blob.provider must be %q or %q", blobProviderLocal, blobProviderS3)
	}
	return nil
}

// IsS3 reports whether the s3 blob provider is selected.
func (c AppConfig) IsS3() bool {
	return c.BlobProvider == blobProviderS3
}

package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendFile   = "file"
	CacheBackendS3     = "s3"
)

type Config struct {
	Stage            string `envconfig:"STAGE" default:"dev"`
	ProjectID        string `envconfig:"GOOGLE_CLOUD_PROJECT_ID" default:"moodle-plugin-lookup"`
	Port             string `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	BindAddress      string `envconfig:"BIND_ADDRESS"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn warning error"`
	PluglistURL      string `envconfig:"PLUGLIST_URL" default:"https://download.moodle.org/api/1.3/pluglist.php" validate:"required,url"`
	FetchRetryMax    int    `envconfig:"FETCH_RETRY_MAX" default:"3" validate:"gte=0,lte=10"`
	CacheBackend     string `envconfig:"CACHE_BACKEND" default:"file" validate:"oneof=memory file s3"`
	CacheDir         string `envconfig:"CACHE_DIR"`
	AdminAccessToken string `envconfig:"ADMIN_ACCESS_TOKEN"`

	S3Bucket            string `envconfig:"S3_BUCKET" validate:"required_if=CacheBackend s3"`
	S3Prefix            string `envconfig:"S3_PREFIX"`
	S3Endpoint          string `envconfig:"S3_ENDPOINT" validate:"omitempty,url"`
	S3Region            string `envconfig:"S3_REGION" default:"auto"`
	S3AccessKeyID       string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey   string `envconfig:"S3_SECRET_ACCESS_KEY"`
	CloudflareAccountID string `envconfig:"CLOUDFLARE_ACCOUNT_ID"`

	DisableMetrics      bool   `envconfig:"DISABLE_METRICS"`
	DisableRequestCache bool   `envconfig:"DISABLE_REQUEST_CACHE"`
	Version             string `ignored:"true"`
}

// Load reads the configuration from the environment. Values from a .env file
// in the working directory are used for variables that are not set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		msgs := make([]string, 0, len(validationErrors))
		for _, fe := range validationErrors {
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
	}
	if err != nil {
		return err
	}
	if c.CacheBackend == CacheBackendS3 && c.S3Endpoint == "" && c.CloudflareAccountID == "" {
		return errors.New("invalid configuration: S3_ENDPOINT or CLOUDFLARE_ACCOUNT_ID is required for the s3 cache backend")
	}
	return nil
}

func (c *Config) GetServerAddr() string {
	return c.BindAddress + ":" + c.Port
}

func (c *Config) s3EndpointURL() string {
	if c.S3Endpoint != "" {
		return c.S3Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.CloudflareAccountID)
}

func (c *Config) s3EndpointResolver(_, _ string, _ ...interface{}) (aws.Endpoint, error) {
	return aws.Endpoint{
		URL:               c.s3EndpointURL(),
		HostnameImmutable: c.S3Endpoint != "",
	}, nil
}

func (c *Config) CreateS3Client(ctx context.Context) (*s3.Client, error) {
	opts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(c.S3Region),
		awsConfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(c.s3EndpointResolver)),
	}
	if c.S3AccessKeyID != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.S3AccessKeyID,
			c.S3SecretAccessKey,
			"",
		)))
	}
	s3Cfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(s3Cfg), nil
}

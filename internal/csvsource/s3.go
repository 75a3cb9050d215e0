package csvsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures an S3-compatible object store (AWS, MinIO or Supabase storage).
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
	Anonymous       bool
}

// LoadS3ConfigFromEnv reads S3_* variables, falling back to the AWS_* equivalents.
// Returns nil when nothing is configured so the default credential chain applies.
func LoadS3ConfigFromEnv() (*S3Config, error) {
	accessKeyID := firstEnv("S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	secretAccessKey := firstEnv("S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	endpoint := firstEnv("S3_ENDPOINT", "AWS_ENDPOINT_URL")
	region := firstEnv("S3_REGION", "AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}

	if accessKeyID == "" && secretAccessKey != "" {
		return nil, errors.New("S3_SECRET_ACCESS_KEY is set but S3_ACCESS_KEY_ID is missing")
	}
	if accessKeyID != "" && secretAccessKey == "" {
		return nil, errors.New("S3_ACCESS_KEY_ID is set but S3_SECRET_ACCESS_KEY is missing")
	}
	if accessKeyID == "" && endpoint == "" {
		return nil, nil
	}

	return &S3Config{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Endpoint:        endpoint,
		Region:          region,
		Anonymous:       accessKeyID == "",
	}, nil
}

// NewS3Client builds a client from cfg. A nil cfg uses the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	if cfg == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return s3.NewFromConfig(awsCfg), nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Anonymous {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	} else {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// MirrorKey is the object key a dataset's CSV is stored under.
func MirrorKey(datasetID string) string {
	return "csv/" + datasetID + ".csv"
}

// Mirror copies the CSV at location into bucket under MirrorKey(datasetID) and returns the
// resulting s3:// location.
func (f *Fetcher) Mirror(ctx context.Context, location, bucket, datasetID string) (string, error) {
	if f.cfg.S3 == nil {
		return "", errors.New("mirror requires an s3 client")
	}
	if bucket == "" || datasetID == "" {
		return "", errors.New("mirror requires a bucket and dataset id")
	}

	file, err := f.Fetch(ctx, location)
	if err != nil {
		return "", err
	}
	defer file.Close()

	body, err := os.Open(file.Path)
	if err != nil {
		return "", err
	}
	defer body.Close()

	key := MirrorKey(datasetID)
	_, err = f.cfg.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(file.Size),
		ContentType:   aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	dest := "s3://" + bucket + "/" + key
	f.log.Info("csvsource: mirrored", "from", file.Location, "to", dest, "bytes", file.Size)
	return dest, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

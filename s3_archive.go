package switchpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3ArchiveConfig configures the S3 archive backend.
type S3ArchiveConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // For S3-compatible services (MinIO, etc.)
	// AccessKeyID for authentication. Prefer using IAM roles, instance profiles,
	// or environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY) instead
	// of setting these directly. DO NOT commit credentials to source control.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`         // Key prefix for all objects
	UsePathStyle    bool   `yaml:"use_path_style"` // Use path-style addressing
	CacheSize       int    `yaml:"cache_size"`     // Number of blobs to cache (default: 100)
	MaxRetries      int    `yaml:"max_retries"`    // Max retry attempts for S3 operations (default: 3)
}

// S3Archive implements ArchiveBackend using S3 or S3-compatible storage.
type S3Archive struct {
	client  *s3.Client
	config  S3ArchiveConfig
	cache   *blobCache
	retryer *Retryer
}

// blobCache is a small LRU cache for archive blobs.
type blobCache struct {
	capacity int
	items    map[string][]byte
	order    []string
	mu       sync.Mutex
}

func newBlobCache(capacity int) *blobCache {
	return &blobCache{
		capacity: capacity,
		items:    make(map[string][]byte),
	}
}

func (c *blobCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.moveToEnd(key)
	return data, true
}

func (c *blobCache) put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		c.items[key] = data
		c.moveToEnd(key)
		return
	}

	// Evict oldest entries when at capacity
	for len(c.items) >= c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}

	c.items[key] = data
	c.order = append(c.order, key)
}

func (c *blobCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *blobCache) moveToEnd(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			break
		}
	}
}

// NewS3Archive creates a new S3 archive backend.
func NewS3Archive(cfg S3ArchiveConfig) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &S3Archive{
		client: client,
		config: cfg,
		cache:  newBlobCache(cfg.CacheSize),
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:       cfg.MaxRetries,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
			RetryIf:           IsRetryable,
		}),
	}, nil
}

func (s *S3Archive) Read(ctx context.Context, key string) ([]byte, error) {
	fullKey := s.config.Prefix + key

	if data, ok := s.cache.get(fullKey); ok {
		return data, nil
	}

	var data []byte
	result := s.retryer.Do(ctx, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(fullKey),
		})
		if err != nil {
			if isS3NotFound(err) {
				return fmt.Errorf("S3 object %s: %w", fullKey, os.ErrNotExist)
			}
			return fmt.Errorf("S3 get object failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("S3 read body failed: %w", err)
		}
		return nil
	})

	if result.LastErr != nil {
		return nil, result.LastErr
	}

	s.cache.put(fullKey, data)
	return data, nil
}

func (s *S3Archive) Write(ctx context.Context, key string, data []byte) error {
	fullKey := s.config.Prefix + key

	result := s.retryer.Do(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(fullKey),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return fmt.Errorf("S3 put object failed: %w", err)
		}
		return nil
	})

	if result.LastErr != nil {
		return result.LastErr
	}

	s.cache.put(fullKey, data)
	return nil
}

func (s *S3Archive) Delete(ctx context.Context, key string) error {
	fullKey := s.config.Prefix + key

	result := s.retryer.Do(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(fullKey),
		})
		if err != nil {
			return fmt.Errorf("S3 delete object failed: %w", err)
		}
		return nil
	})

	if result.LastErr != nil {
		return result.LastErr
	}

	s.cache.remove(fullKey)
	return nil
}

func (s *S3Archive) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.config.Prefix + prefix

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 list objects failed: %w", err)
		}
		for _, obj := range page.Contents {
			// Remove the prefix to return relative keys
			keys = append(keys, strings.TrimPrefix(*obj.Key, s.config.Prefix))
		}
	}

	return keys, nil
}

func (s *S3Archive) Exists(ctx context.Context, key string) (bool, error) {
	fullKey := s.config.Prefix + key

	if _, ok := s.cache.get(fullKey); ok {
		return true, nil
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("S3 head object failed: %w", err)
	}

	return true, nil
}

func (s *S3Archive) Close() error {
	return nil
}

// isS3NotFound reports whether an S3 error means the object does not
// exist. HeadObject does not return typed NoSuchKey errors, so the
// message is checked as a fallback.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404")
}

package artifacts

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fridayops/friday/pkg/config"
	"github.com/sirupsen/logrus"
)

const defaultPresignExpiry = 15 * time.Minute

// presignCacheEntry holds a cached presigned URL and its expiration time.
type presignCacheEntry struct {
	url       string
	expiresAt time.Time
}

// Presigner generates presigned GET URLs for artifacts stored in S3.
type Presigner struct {
	log             logrus.FieldLogger
	cfg             *config.S3ArtifactsConfig
	presignClient   *s3.PresignClient
	expiry          time.Duration
	allowedPrefixes []string
	cacheTTL        time.Duration
	mu              sync.RWMutex
	cache           map[string]presignCacheEntry
}

// NewPresigner creates an S3 presigner from the given configuration.
func NewPresigner(
	log logrus.FieldLogger,
	cfg *config.S3ArtifactsConfig,
) (*Presigner, error) {
	expiry := defaultPresignExpiry

	if cfg.PresignExpiry != "" {
		d, err := time.ParseDuration(cfg.PresignExpiry)
		if err != nil {
			return nil, fmt.Errorf("parsing presign_expiry: %w", err)
		}

		expiry = d
	}

	client := newS3Client(cfg)
	presignClient := s3.NewPresignClient(client)

	prefixes := make([]string, 0, len(cfg.AllowedPrefixes))
	for _, p := range cfg.AllowedPrefixes {
		prefixes = append(prefixes, strings.TrimRight(p, "/"))
	}

	return &Presigner{
		log:             log.WithField("component", "artifacts-s3"),
		cfg:             cfg,
		presignClient:   presignClient,
		expiry:          expiry,
		allowedPrefixes: prefixes,
		cacheTTL:        expiry / 2,
		cache:           make(map[string]presignCacheEntry),
	}, nil
}

// GeneratePresignedURL returns a presigned GET URL for the given S3 key.
// Results are cached for half the expiry so repeated screenshot loads
// do not presign redundantly while URLs keep sufficient validity.
func (p *Presigner) GeneratePresignedURL(
	ctx context.Context,
	key string,
) (string, error) {
	if !p.isAllowedPath(key) {
		return "", fmt.Errorf("path %q is not within any allowed prefix", key)
	}

	now := time.Now()

	p.mu.RLock()
	if entry, ok := p.cache[key]; ok && now.Before(entry.expiresAt) {
		p.mu.RUnlock()

		return entry.url, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.cache[key]; ok && now.Before(entry.expiresAt) {
		return entry.url, nil
	}

	result, err := p.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", fmt.Errorf("presigning URL for %q: %w", key, err)
	}

	p.cache[key] = presignCacheEntry{
		url:       result.URL,
		expiresAt: now.Add(p.cacheTTL),
	}

	return result.URL, nil
}

// isAllowedPath checks that the key is clean and under an allowed prefix.
// An empty prefix list allows any clean key.
func (p *Presigner) isAllowedPath(key string) bool {
	if key == "" {
		return false
	}

	if strings.Contains(key, "..") {
		return false
	}

	if path.Clean(key) != key {
		return false
	}

	if len(p.allowedPrefixes) == 0 {
		return true
	}

	for _, prefix := range p.allowedPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+"/") {
			return true
		}
	}

	return false
}

// newS3Client constructs an S3 client from the artifacts config.
func newS3Client(cfg *config.S3ArtifactsConfig) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}

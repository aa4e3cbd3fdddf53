package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	DriverFile = "file"
	DriverS3   = "s3"

	defaultMaxGetSize int64 = 32 << 20
)

var (
	ErrInvalidConfig = errors.New("storage: invalid config")
	ErrInvalidKey    = errors.New("storage: invalid key")
	ErrNotFound      = errors.New("storage: not found")
	ErrTooLarge      = errors.New("storage: object too large")
)

// Store is the blob store for source photos and generated figures.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (Object, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// SignedURL returns a time-limited URL for fetching key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Object is a fetched blob.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
}

// Config selects and configures a Store.
type Config struct {
	Driver string

	// File fields.
	BasePath      string
	BaseURL       string
	SigningSecret string

	// S3 fields.
	Bucket    string
	Prefix    string
	S3Client  S3Client
	Presigner Presigner

	MaxGetSize int64
}

// Open builds the configured store. For S3 without an injected client the
// default AWS credential chain is used.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverFile:
		return NewFileStore(cfg.BasePath, cfg.BaseURL, cfg.SigningSecret)
	case DriverS3:
		if cfg.S3Client == nil {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: load aws config: %v", ErrInvalidConfig, err)
			}
			client := s3.NewFromConfig(awsCfg)
			cfg.S3Client = client
			cfg.Presigner = s3.NewPresignClient(client)
		}
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// FigureKey is the storage key of one generation attempt's image. Attempts
// never share a key, so only the committed attempt's bytes are referenced.
func FigureKey(ownerID, figureID, attempt string) string {
	return ownerID + "/" + figureID + "_" + attempt + "_figure.png"
}

// UploadKey is the storage key of a user's source photo.
func UploadKey(ownerID, uploadID, ext string) string {
	return ownerID + "/uploads/" + uploadID + ext
}

// OwnedBy reports whether key lives under the owner's prefix.
func OwnedBy(key, ownerID string) bool {
	clean, err := sanitizeKey(key)
	if err != nil || ownerID == "" {
		return false
	}
	return strings.HasPrefix(clean, ownerID+"/")
}

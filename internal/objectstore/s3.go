package objectstore

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/patrickmn/go-cache"

	"github.com/polybot/yolo-service/internal/awsclient"
	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
)

// S3API is the subset of the S3 client used by the transfer managers.
type S3API interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient
}

// S3Store implements Store on Amazon S3 or an S3 compatible service.
// Requests name their region, so one client per region is kept.
type S3Store struct {
	settings  conf.S3Settings
	log       logger.Logger
	clients   *cache.Cache
	mu        sync.Mutex // serialises client construction per store
	newClient func(ctx context.Context, region string) (S3API, error)
}

// NewS3Store creates a store that builds region clients lazily.
func NewS3Store(settings conf.S3Settings, log logger.Logger) *S3Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	s := &S3Store{
		settings: settings,
		log:      log,
		clients:  cache.New(cache.NoExpiration, 0),
	}
	s.newClient = s.buildClient
	return s
}

func (s *S3Store) buildClient(ctx context.Context, region string) (S3API, error) {
	cfg, err := awsclient.LoadConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = awsclient.Endpoint(s.settings.Endpoint)
		o.UsePathStyle = s.settings.UsePathStyle
	}), nil
}

func (s *S3Store) client(ctx context.Context, region string) (S3API, error) {
	if c, ok := s.clients.Get(region); ok {
		return c.(S3API), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients.Get(region); ok {
		return c.(S3API), nil
	}

	c, err := s.newClient(ctx, region)
	if err != nil {
		return nil, errors.New(err).
			Component(componentObjectStore).
			Category(errors.CategoryConfiguration).
			Context("region", region).
			Build()
	}
	s.clients.Set(region, c, cache.NoExpiration)
	s.log.Debug("created s3 client", logger.String("region", region))
	return c, nil
}

// Fetch downloads the object into a temporary file and renames it into place.
func (s *S3Store) Fetch(ctx context.Context, loc Location, key, localPath string) error {
	c, err := s.client(ctx, loc.Region)
	if err != nil {
		return err
	}

	f, err := createPartial(localPath)
	if err != nil {
		return err
	}

	n, err := manager.NewDownloader(c).Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		discardPartial(f)
		return transferError(err, "fetch", loc, key, s3ErrorCategory(err))
	}
	if err := commitPartial(f, localPath); err != nil {
		return err
	}

	s.log.Debug("object fetched",
		logger.String("bucket", loc.Bucket),
		logger.String("key", key),
		logger.Int64("bytes", n))
	return nil
}

// Put uploads localPath with a content type derived from its extension.
func (s *S3Store) Put(ctx context.Context, localPath string, loc Location, key string) error {
	c, err := s.client(ctx, loc.Region)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return scratchError(err, "open_file", localPath)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := manager.NewUploader(c).Upload(ctx, input); err != nil {
		return transferError(err, "put", loc, key, s3ErrorCategory(err))
	}
	s.log.Debug("object published", logger.String("bucket", loc.Bucket), logger.String("key", key))
	return nil
}

func s3ErrorCategory(err error) errors.ErrorCategory {
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) || awsclient.IsCode(err, "NotFound", "NoSuchKey") {
		return errors.CategoryNotFound
	}
	return errors.CategoryNetwork
}

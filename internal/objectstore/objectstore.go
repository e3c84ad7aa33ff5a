// Package objectstore moves images between object storage and the local
// scratch area used by the prediction pipeline.
package objectstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
)

const componentObjectStore = "objectstore"

// Location addresses a bucket. Region selects the regional endpoint and is
// ignored by backends without regions.
type Location struct {
	Bucket string
	Region string
}

// Store fetches objects into local files and publishes local files as objects.
type Store interface {
	// Fetch downloads key into localPath, creating parent directories. On
	// failure no file is left at localPath.
	Fetch(ctx context.Context, loc Location, key, localPath string) error

	// Put uploads localPath under key, replacing any existing object.
	Put(ctx context.Context, localPath string, loc Location, key string) error
}

// New returns the backend selected by objectstore.backend.
func New(settings *conf.Settings, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.Module(componentObjectStore)

	switch settings.ObjectStore.Backend {
	case conf.ObjectStoreS3:
		return NewS3Store(settings.ObjectStore.S3, log), nil
	case conf.ObjectStoreLocal:
		return NewLocalStore(afero.NewOsFs(), settings.ObjectStore.Local.Root, log), nil
	default:
		return nil, errors.Newf("unsupported object store backend %q", settings.ObjectStore.Backend).
			Component(componentObjectStore).
			Category(errors.CategoryConfiguration).
			Context("backend", settings.ObjectStore.Backend).
			Build()
	}
}

func transferError(err error, operation string, loc Location, key string, category errors.ErrorCategory) error {
	return errors.New(err).
		Component(componentObjectStore).
		Category(category).
		Context("operation", operation).
		Context("bucket", loc.Bucket).
		Context("region", loc.Region).
		Context("key", key).
		Build()
}

func scratchError(err error, operation, path string) error {
	return errors.New(err).
		Component(componentObjectStore).
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("path", path).
		Build()
}

// createPartial opens a temporary file next to localPath. The caller renames
// it into place with commitPartial once the transfer completed.
func createPartial(localPath string) (*os.File, error) {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, scratchError(err, "create_dir", dir)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".part-*")
	if err != nil {
		return nil, scratchError(err, "create_file", localPath)
	}
	return f, nil
}

func commitPartial(f *os.File, localPath string) error {
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return scratchError(err, "close_file", localPath)
	}
	if err := os.Rename(f.Name(), localPath); err != nil {
		_ = os.Remove(f.Name())
		return scratchError(err, "rename_file", localPath)
	}
	return nil
}

func discardPartial(f *os.File) {
	_ = f.Close()
	_ = os.Remove(f.Name())
}

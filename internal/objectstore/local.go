package objectstore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
)

// LocalStore implements Store on a filesystem. Each bucket is a directory
// under root and keys are slash separated paths inside it.
type LocalStore struct {
	fs   afero.Fs
	root string
	log  logger.Logger
}

// NewLocalStore creates a store rooted at root on fsys.
func NewLocalStore(fsys afero.Fs, root string, log logger.Logger) *LocalStore {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &LocalStore{fs: fsys, root: root, log: log}
}

// objectPath maps bucket and key to a path that cannot leave root.
func (s *LocalStore) objectPath(loc Location, key string) (string, error) {
	bucket := strings.TrimSpace(loc.Bucket)
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", errors.Newf("invalid bucket name %q", loc.Bucket).
			Component(componentObjectStore).
			Category(errors.CategoryValidation).
			Build()
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+key), "/")
	if cleaned == "" {
		return "", errors.Newf("invalid object key %q", key).
			Component(componentObjectStore).
			Category(errors.CategoryValidation).
			Build()
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(cleaned)), nil
}

// Fetch copies the object into localPath on the host filesystem.
func (s *LocalStore) Fetch(ctx context.Context, loc Location, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := s.objectPath(loc, key)
	if err != nil {
		return err
	}

	in, err := s.fs.Open(src)
	if err != nil {
		category := errors.CategoryObjectStore
		if errors.Is(err, fs.ErrNotExist) {
			category = errors.CategoryNotFound
		}
		return transferError(err, "fetch", loc, key, category)
	}
	defer in.Close()

	out, err := createPartial(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		discardPartial(out)
		return transferError(err, "fetch", loc, key, errors.CategoryObjectStore)
	}
	return commitPartial(out, localPath)
}

// Put copies localPath into the bucket directory.
func (s *LocalStore) Put(ctx context.Context, localPath string, loc Location, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.objectPath(loc, key)
	if err != nil {
		return err
	}

	in, err := os.Open(localPath)
	if err != nil {
		return scratchError(err, "open_file", localPath)
	}
	defer in.Close()

	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return transferError(err, "put", loc, key, errors.CategoryObjectStore)
	}
	out, err := s.fs.Create(dst)
	if err != nil {
		return transferError(err, "put", loc, key, errors.CategoryObjectStore)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = s.fs.Remove(dst)
		return transferError(err, "put", loc, key, errors.CategoryObjectStore)
	}
	if err := out.Close(); err != nil {
		return transferError(err, "put", loc, key, errors.CategoryObjectStore)
	}

	s.log.Debug("object stored", logger.String("path", dst))
	return nil
}

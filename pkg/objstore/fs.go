// Package objstore keeps uploaded documents in bucket directories on local disk.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xhad/docrag/pkg/apperr"
)

// FS maps bucket/key to <Root>/<bucket>/<key>.
type FS struct {
	Root string
}

func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, apperr.New(apperr.KindMissingConfiguration, "objstore", "storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "objstore", err)
	}
	return &FS{Root: root}, nil
}

// Path resolves an object to its file path, rejecting keys that escape the bucket.
func (s *FS) Path(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", apperr.New(apperr.KindInvalidRequest, "objstore", "invalid bucket %q", bucket)
	}
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+key {
		return "", apperr.New(apperr.KindInvalidRequest, "objstore", "invalid key %q", key)
	}
	return filepath.Join(s.Root, bucket, filepath.FromSlash(clean[1:])), nil
}

func (s *FS) Get(_ context.Context, bucket, key string) ([]byte, error) {
	p, err := s.Path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "get", fmt.Errorf("%s/%s: %w", bucket, key, err))
	}
	return data, nil
}

func (s *FS) Put(_ context.Context, bucket, key string, data []byte) error {
	p, err := s.Path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return apperr.Wrap(apperr.KindStorage, "put", err)
	}
	// Write then rename so watchers never see a half-written object.
	tmp := p + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperr.Wrap(apperr.KindStorage, "put", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return apperr.Wrap(apperr.KindStorage, "put", err)
	}
	return nil
}

func (s *FS) Delete(_ context.Context, bucket, key string) error {
	p, err := s.Path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return apperr.Wrap(apperr.KindStorage, "delete", fmt.Errorf("%s/%s: %w", bucket, key, err))
	}
	return nil
}

// List returns the keys in bucket starting with prefix, sorted.
func (s *FS) List(_ context.Context, bucket, prefix string) ([]string, error) {
	dir := filepath.Join(s.Root, bucket)
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".part") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindStorage, "list", err)
	}
	sort.Strings(keys)
	return keys, nil
}

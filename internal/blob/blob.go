// Package blob stores exported decision support files on a filesystem or an S3 bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var ErrNotFound = errors.New("blob not found")

const (
	DriverFS = "fs"
	DriverS3 = "s3"
)

// Info describes a stored blob.
type Info struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Store is implemented by every blob backend. Put overwrites an existing key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

type Config struct {
	// Driver is "fs", "s3" or empty to disable blob storage.
	Driver string
	// Root is the fs driver's base directory.
	Root string
	S3   S3Config
}

// Open builds the configured store. It returns a nil Store when no driver is set.
func Open(ctx context.Context, cfg Config, fs afero.Fs) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "":
		return nil, nil
	case DriverFS:
		if fs == nil {
			fs = afero.NewOsFs()
		}
		return NewFSStore(fs, cfg.Root), nil
	case DriverS3:
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
	}
}

func cleanKey(key string) (string, error) {
	k := strings.TrimPrefix(path.Clean("/"+key), "/")
	if k == "" || k != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return k, nil
}

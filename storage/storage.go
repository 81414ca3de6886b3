// Package storage is the object storage of the backend: named buckets below a root directory, served read-only
// under a public base url.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/globals"
)

const (
	BucketAvatars   = "avatars"
	BucketResources = "resources"
)

var ErrInvalidPath = errors.New("invalid object path")

type Storage interface {
	Upload(ctx context.Context, bucket, objectPath string, r io.Reader) (string, error)
	PublicURL(bucket, objectPath string) string
}

// Local keeps objects below a directory and serves them under baseURL. Objects are public: the file server
// mounted on /storage/ does no access check, so premium resources are only hidden by withholding their URL.
type Local struct {
	root    string
	baseURL string
	logger  hclog.Logger
}

func NewLocal(cfg config.StorageConfig) (*Local, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("no storage root configured")
	}
	err := os.MkdirAll(cfg.Root, 0o755)
	if err != nil {
		return nil, err
	}
	return &Local{
		root:    cfg.Root,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  globals.AppLogger.Named("storage"),
	}, nil
}

func (l *Local) Root() string {
	return l.root
}

// clean rejects bucket and object paths leaving the bucket.
func clean(bucket, objectPath string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", ErrInvalidPath
	}
	p := path.Clean("/" + strings.ReplaceAll(objectPath, `\`, "/"))
	if p == "/" {
		return "", ErrInvalidPath
	}
	return path.Join(bucket, p), nil
}

// Upload writes the object and returns its public url. An existing object is replaced.
func (l *Local) Upload(ctx context.Context, bucket, objectPath string, r io.Reader) (string, error) {
	rel, err := clean(bucket, objectPath)
	if err != nil {
		return "", err
	}
	target := filepath.Join(l.root, filepath.FromSlash(rel))
	err = os.MkdirAll(filepath.Dir(target), 0o755)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	_, err = io.Copy(tmp, readerWithContext{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	err = os.Rename(tmp.Name(), target)
	if err != nil {
		return "", err
	}
	l.logger.Debug("uploaded", "object", rel)
	return l.PublicURL(bucket, objectPath), nil
}

func (l *Local) PublicURL(bucket, objectPath string) string {
	rel, err := clean(bucket, objectPath)
	if err != nil {
		return ""
	}
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return l.baseURL + "/" + strings.Join(parts, "/")
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Package storage keeps uploaded item images in a local directory or a
// Google Cloud Storage bucket.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"Gin_postgres_redis_lending_portal/apperr"
	"Gin_postgres_redis_lending_portal/config"
)

var (
	ErrUnsupportedImage = apperr.New(apperr.KindValidation, "UNSUPPORTED_IMAGE", "image must be jpeg, png, webp or gif")
	ErrImageTooLarge    = apperr.New(apperr.KindTooLarge, "IMAGE_TOO_LARGE", "image is too large")
	ErrEmptyImage       = apperr.New(apperr.KindValidation, "EMPTY_IMAGE", "image is empty")
)

// Store writes objects under a key and hands back a public URL.
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
	// URL is the public URL of key.
	URL(key string) string
}

func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.Dir, cfg.BaseURL)
	case "gcs":
		return NewGCS(ctx, cfg.Bucket, cfg.CredentialsFile)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

var allowedImages = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// Images validates and stores item pictures.
type Images struct {
	store    Store
	maxBytes int64
	newID    func() string
}

func NewImages(store Store, maxBytes int64) *Images {
	return &Images{store: store, maxBytes: maxBytes, newID: uuid.NewString}
}

// Save sniffs the content instead of trusting the client's content type.
func (im *Images) Save(ctx context.Context, r io.Reader) (string, error) {
	buf, err := io.ReadAll(io.LimitReader(r, im.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(buf) == 0 {
		return "", ErrEmptyImage
	}
	if int64(len(buf)) > im.maxBytes {
		return "", ErrImageTooLarge
	}

	mt := mimetype.Detect(buf)
	if !mimetype.EqualsAny(mt.String(), allowedImages...) {
		return "", ErrUnsupportedImage
	}

	key := "items/image_" + im.newID() + mt.Extension()
	url, err := im.store.Put(ctx, key, mt.String(), bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return url, nil
}

// Remove deletes an image previously returned by Save. URLs this store did
// not issue are ignored.
func (im *Images) Remove(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, im.store.URL(""))
	if !ok || !strings.HasPrefix(key, "items/") {
		return nil
	}
	return im.store.Delete(ctx, key)
}

// Package persistence saves generated images to disk, one folder per
// character.
package persistence

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	// MaxImageSizeBytes is the maximum size allowed for an image file.
	MaxImageSizeBytes = 50 * 1024 * 1024 // 50MB

	// maxCollisions bounds the numeric suffixes tried when a file name is taken.
	maxCollisions = 100
)

var (
	// ErrEmptyImage indicates no image bytes were supplied
	ErrEmptyImage = errors.New("image data cannot be empty")
	// ErrImageTooLarge indicates the image exceeds MaxImageSizeBytes
	ErrImageTooLarge = errors.New("image exceeds maximum size")
	// ErrInvalidFormat indicates a file extension that is not a short lowercase token
	ErrInvalidFormat = errors.New("invalid image format")
	// ErrInvalidPath indicates a relative path that escapes the store
	ErrInvalidPath = errors.New("invalid image path")
)

// ImageStore persists generated images to disk.
//
// Storage structure:
//
//	{basePath}/{character}/{character}_{Y-M-D@HhMmSs}.{format}
type ImageStore struct {
	basePath string
}

// NewImageStore creates a new image store rooted at the specified base path.
// Directories are created as needed when Save is called.
func NewImageStore(basePath string) *ImageStore {
	return &ImageStore{basePath: basePath}
}

// BasePath returns the root directory of the store.
func (s *ImageStore) BasePath() string {
	return s.basePath
}

// HumanizedDateTime formats t as "2024-3-7@9h5m2s" (no zero padding).
func HumanizedDateTime(t time.Time) string {
	return fmt.Sprintf("%d-%d-%d@%dh%dm%ds",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

// Save writes data under the character's folder and returns the path
// relative to the base path, using "/" separators.
//
// The write is atomic: data goes to a temp file which is then renamed.
// An existing file is never overwritten; a "_N" suffix is added instead.
func (s *ImageStore) Save(character string, data []byte, format string, now time.Time) (string, error) {
	folder, err := CharacterFolder(character)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if len(data) > MaxImageSizeBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d bytes", ErrImageTooLarge, len(data), MaxImageSizeBytes)
	}
	if format == "" {
		format = "png"
	}
	format = strings.ToLower(format)
	if !validFormat.MatchString(format) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}

	// 0700: owner-only access
	dir := filepath.Join(s.basePath, folder)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	stem := folder + "_" + HumanizedDateTime(now)
	for i := 0; i < maxCollisions; i++ {
		name := stem + "." + format
		if i > 0 {
			name = fmt.Sprintf("%s_%d.%s", stem, i, format)
		}

		rel := path.Join(folder, name)
		if s.Exists(rel) {
			continue
		}

		if err := writeAtomic(filepath.Join(dir, name), data); err != nil {
			return "", err
		}
		return rel, nil
	}

	return "", fmt.Errorf("failed to find free file name for %s", stem)
}

// writeAtomic writes to a temp file in the target directory, then renames.
func writeAtomic(imagePath string, data []byte) error {
	tempPath := imagePath + ".tmp"

	// 0600: owner read/write only
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write image file: %w", err)
	}

	if err := os.Rename(tempPath, imagePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to commit image file: %w", err)
	}

	return nil
}

// Load reads an image previously returned by Save.
// Returns an error wrapping os.ErrNotExist if the image doesn't exist.
func (s *ImageStore) Load(rel string) ([]byte, error) {
	if err := validateRelPath(rel); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(rel)))
}

// Exists reports whether the image file exists.
func (s *ImageStore) Exists(rel string) bool {
	if err := validateRelPath(rel); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(s.basePath, filepath.FromSlash(rel)))
	return err == nil
}

// Delete removes an image from disk.
// Returns nil if the image was deleted or didn't exist.
func (s *ImageStore) Delete(rel string) error {
	if err := validateRelPath(rel); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(s.basePath, filepath.FromSlash(rel)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// URL returns the HTTP path an image is served from:
// /saved/{character}/{file}
func (s *ImageStore) URL(rel string) string {
	folder, file := path.Split(rel)
	return "/saved/" + url.PathEscape(strings.TrimSuffix(folder, "/")) + "/" + url.PathEscape(file)
}

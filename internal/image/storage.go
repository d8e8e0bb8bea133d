// Package image keeps generated images in memory for serving over HTTP.
package image

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hurricanerix/tagweave/internal/logging"
)

const (
	// DefaultMaxImages is the default number of images to keep in storage
	DefaultMaxImages = 100
	// MaxAge is the maximum age of an image before cleanup
	MaxAge = 24 * time.Hour
	// CleanupInterval is how often cleanup runs
	CleanupInterval = 10 * time.Minute
	// MaxImageSize is the maximum size of a single image (32MB)
	MaxImageSize = 32 * 1024 * 1024
)

var (
	// ErrNotFound indicates the requested image does not exist
	ErrNotFound = errors.New("image not found")
	// ErrInvalidID indicates the provided image ID is invalid
	ErrInvalidID = errors.New("invalid image ID")
	// ErrImageTooLarge indicates the image exceeds the maximum allowed size
	ErrImageTooLarge = errors.New("image exceeds maximum size")
	// ErrEmpty indicates empty image data
	ErrEmpty = errors.New("empty image data")
)

// storedImage holds image data with metadata
type storedImage struct {
	Data       []byte
	Info       Info
	CreatedAt  time.Time
	AccessedAt time.Time
}

// Storage provides thread-safe in-memory image storage.
type Storage struct {
	mu        sync.RWMutex
	images    map[string]*storedImage
	maxImages int
	wg        sync.WaitGroup
}

// NewStorage creates a new image storage holding at most maxImages after
// each cleanup. maxImages <= 0 selects DefaultMaxImages.
func NewStorage(maxImages int) *Storage {
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}
	return &Storage{
		images:    make(map[string]*storedImage),
		maxImages: maxImages,
	}
}

// Store validates data as an image, saves it and returns a unique ID.
func (s *Storage) Store(data []byte) (string, Info, error) {
	if len(data) == 0 {
		return "", Info{}, ErrEmpty
	}

	if len(data) > MaxImageSize {
		return "", Info{}, ErrImageTooLarge
	}

	info, err := Inspect(data)
	if err != nil {
		return "", Info{}, err
	}

	id := uuid.New().String()

	now := time.Now()
	img := &storedImage{
		Data:       data,
		Info:       info,
		CreatedAt:  now,
		AccessedAt: now,
	}

	s.mu.Lock()
	s.images[id] = img
	s.mu.Unlock()

	return id, info, nil
}

// Get retrieves image bytes by ID, returns ErrNotFound if not exists.
func (s *Storage) Get(id string) ([]byte, Info, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, Info{}, ErrInvalidID
	}

	s.mu.Lock()
	img, exists := s.images[id]
	if exists {
		img.AccessedAt = time.Now()
	}
	s.mu.Unlock()

	if !exists {
		return nil, Info{}, ErrNotFound
	}

	// Return copy of data to prevent external modification
	data := make([]byte, len(img.Data))
	copy(data, img.Data)
	return data, img.Info, nil
}

// Count returns number of stored images
func (s *Storage) Count() int {
	s.mu.RLock()
	count := len(s.images)
	s.mu.RUnlock()
	return count
}

// Delete removes an image by ID. Returns true if image was deleted.
func (s *Storage) Delete(id string) bool {
	s.mu.Lock()
	_, exists := s.images[id]
	if exists {
		delete(s.images, id)
	}
	s.mu.Unlock()
	return exists
}

// StartCleanup starts a background goroutine that periodically removes
// old images (older than MaxAge) and enforces the image limit via LRU.
// The goroutine runs until ctx is cancelled; Wait blocks until it exits.
func (s *Storage) StartCleanup(ctx context.Context, logger *logging.Logger) {
	ticker := time.NewTicker(CleanupInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Debug("Image cleanup goroutine stopping")
				return
			case <-ticker.C:
				s.cleanup(logger)
			}
		}
	}()
}

// Wait blocks until the cleanup goroutine has exited.
func (s *Storage) Wait() {
	s.wg.Wait()
}

// cleanup removes images older than MaxAge and enforces the image limit.
func (s *Storage) cleanup(logger *logging.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	initialCount := len(s.images)

	ageDeleted := 0
	for id, img := range s.images {
		if now.Sub(img.CreatedAt) > MaxAge {
			delete(s.images, id)
			ageDeleted++
		}
	}

	if ageDeleted > 0 {
		logger.Debug("Removed %d images older than %v", ageDeleted, MaxAge)
	}

	if len(s.images) > s.maxImages {
		type imageEntry struct {
			id         string
			accessedAt time.Time
		}

		entries := make([]imageEntry, 0, len(s.images))
		for id, img := range s.images {
			entries = append(entries, imageEntry{id: id, accessedAt: img.AccessedAt})
		}

		sort.Slice(entries, func(i, j int) bool {
			return entries[i].accessedAt.Before(entries[j].accessedAt)
		})

		toDelete := len(entries) - s.maxImages
		for i := 0; i < toDelete; i++ {
			delete(s.images, entries[i].id)
		}
		logger.Debug("LRU eviction removed %d images (limit: %d)", toDelete, s.maxImages)
	}

	if finalCount := len(s.images); initialCount != finalCount {
		logger.Debug("Cleanup complete: %d -> %d images", initialCount, finalCount)
	}
}

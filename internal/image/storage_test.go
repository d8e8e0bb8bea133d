package image

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hurricanerix/tagweave/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestInspect(t *testing.T) {
	info, err := Inspect(testPNG(t, 4, 3))
	require.NoError(t, err)
	assert.Equal(t, Info{Format: "png", Width: 4, Height: 3}, info)

	_, err = Inspect([]byte("not an image"))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Inspect(nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestStorage_StoreAndGet(t *testing.T) {
	storage := NewStorage(0)
	data := testPNG(t, 2, 2)

	id, info, err := storage.Store(data)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 2, info.Width)
	assert.Equal(t, 1, storage.Count())

	got, gotInfo, err := storage.Get(id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, info, gotInfo)

	// Returned data is a copy
	got[0] = 0
	again, _, err := storage.Get(id)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestStorage_StoreErrors(t *testing.T) {
	storage := NewStorage(10)

	_, _, err := storage.Store(nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, _, err = storage.Store(make([]byte, MaxImageSize+1))
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, _, err = storage.Store([]byte("garbage"))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	assert.Equal(t, 0, storage.Count())
}

func TestStorage_GetErrors(t *testing.T) {
	storage := NewStorage(10)

	_, _, err := storage.Get("not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, _, err = storage.Get("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_Delete(t *testing.T) {
	storage := NewStorage(10)
	id, _, err := storage.Store(testPNG(t, 1, 1))
	require.NoError(t, err)

	assert.True(t, storage.Delete(id))
	assert.False(t, storage.Delete(id))
	assert.Equal(t, 0, storage.Count())
}

func TestStorage_CleanupAge(t *testing.T) {
	storage := NewStorage(10)
	oldID, _, err := storage.Store(testPNG(t, 1, 1))
	require.NoError(t, err)
	newID, _, err := storage.Store(testPNG(t, 1, 1))
	require.NoError(t, err)

	storage.mu.Lock()
	storage.images[oldID].CreatedAt = time.Now().Add(-MaxAge - time.Minute)
	storage.mu.Unlock()

	storage.cleanup(logging.Nop())

	assert.Equal(t, 1, storage.Count())
	_, _, err = storage.Get(newID)
	assert.NoError(t, err)
	_, _, err = storage.Get(oldID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_CleanupLRU(t *testing.T) {
	storage := NewStorage(2)
	ids := make([]string, 3)
	for i := range ids {
		id, _, err := storage.Store(testPNG(t, 1, 1))
		require.NoError(t, err)
		ids[i] = id
	}

	base := time.Now().Add(-time.Hour)
	storage.mu.Lock()
	for i, id := range ids {
		storage.images[id].AccessedAt = base.Add(time.Duration(i) * time.Minute)
	}
	storage.mu.Unlock()

	storage.cleanup(logging.Nop())

	assert.Equal(t, 2, storage.Count())
	_, _, err := storage.Get(ids[0])
	assert.ErrorIs(t, err, ErrNotFound, "least recently accessed image should be evicted")
}

func TestStorage_ConcurrentAccess(t *testing.T) {
	storage := NewStorage(100)
	data := testPNG(t, 1, 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, err := storage.Store(data)
			if err != nil {
				t.Errorf("Store: %v", err)
				return
			}
			if _, _, err := storage.Get(id); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, storage.Count())
}

func TestStorage_StartCleanupStops(t *testing.T) {
	storage := NewStorage(10)
	ctx, cancel := context.WithCancel(context.Background())
	storage.StartCleanup(ctx, logging.Nop())
	cancel()
	storage.Wait()
}

package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Catalog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gallery.db")
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, path
}

func TestOpenAppliesMigrations(t *testing.T) {
	c, _ := openTemp(t)

	version, err := c.Version()
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
}

func TestReopenIsIdempotent(t *testing.T) {
	c, path := openTemp(t)
	_, err := c.Record(context.Background(), Entry{BatchID: "b", Source: "a.png", Operation: "Erosion", Kernel: 30, Filename: "Erosion_30x30_a.png", Bytes: 10})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()

	entries, err := again.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecordAndQuery(t *testing.T) {
	c, _ := openTemp(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, src := range []string{"a.png", "b.jpg"} {
		for _, k := range []int{30, 37, 40} {
			_, err := c.Record(ctx, Entry{
				BatchID:   "batch-1",
				Source:    src,
				Operation: "Dilatacion",
				Kernel:    k,
				Filename:  fmt.Sprintf("Dilatacion_%dx%d_%s", k, k, src),
				Bytes:     k * 10,
				CreatedAt: created,
			})
			require.NoError(t, err)
		}
	}

	forA, err := c.ForSource(ctx, "a.png")
	require.NoError(t, err)
	require.Len(t, forA, 3)
	assert.Equal(t, "Dilatacion_30x30_a.png", forA[0].Filename)
	assert.Equal(t, 37, forA[1].Kernel)
	assert.True(t, created.Equal(forA[2].CreatedAt))

	latest, err := c.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "Dilatacion_40x40_b.jpg", latest[0].Filename)
	assert.Greater(t, latest[0].ID, latest[1].ID)

	none, err := c.ForSource(ctx, "missing.png")
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestRecordDefaultsCreatedAt(t *testing.T) {
	c, _ := openTemp(t)
	before := time.Now()

	_, err := c.Record(context.Background(), Entry{BatchID: "b", Source: "s", Operation: "Original", Kernel: 30, Filename: "f"})
	require.NoError(t, err)

	entries, err := c.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].CreatedAt.Before(before))
}

func TestConcurrentRecords(t *testing.T) {
	c, _ := openTemp(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Record(ctx, Entry{BatchID: "b", Source: "s", Operation: "Erosion", Kernel: 30, Filename: fmt.Sprintf("f%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := c.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 16)
}

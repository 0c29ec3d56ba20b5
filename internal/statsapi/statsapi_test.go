package statsapi_test

import (
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zh-yjie/ya-dns/internal/statsapi"
)

func TestCounters_Snapshot(t *testing.T) {
	c := statsapi.New()
	c.IncrementQuery()
	c.IncrementQuery()
	c.IncrementWin("cloudflare")
	c.IncrementWin("cloudflare")
	c.IncrementWin("quad9")
	c.IncrementDrop()

	snap := c.Snapshot()
	assert.EqualValues(t, 2, snap.Queries)
	assert.EqualValues(t, 1, snap.Drops)
	assert.EqualValues(t, 2, snap.WinsBy["cloudflare"])
	assert.EqualValues(t, 1, snap.WinsBy["quad9"])
}

func TestCounters_NilIsSafe(t *testing.T) {
	var c *statsapi.Counters
	c.IncrementQuery()
	c.IncrementWin("x")
	c.IncrementDrop()
	assert.Equal(t, statsapi.Snapshot{WinsBy: map[string]int64{}}, c.Snapshot())
}

func TestCounters_Concurrent(t *testing.T) {
	c := statsapi.New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncrementQuery()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 100, c.Snapshot().Queries)
}

func TestCounters_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")

	c := statsapi.New()
	c.IncrementQuery()
	c.IncrementWin("cloudflare")
	require.NoError(t, c.Save(path))

	restored := statsapi.New()
	require.NoError(t, restored.Load(path))
	assert.Equal(t, c.Snapshot(), restored.Snapshot())
}

func TestCounters_LoadMissingFileIsNotError(t *testing.T) {
	c := statsapi.New()
	err := c.Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.NoError(t, err)
}

func TestNewServer_ServesStats(t *testing.T) {
	c := statsapi.New()
	c.IncrementQuery()

	srv := statsapi.NewServer("127.0.0.1:0", c)
	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queries":1`)
}

package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var drivers = []string{DriverPureGo, DriverCGO}

func openTestStore(t *testing.T, driver string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Path:   filepath.Join(t.TempDir(), "data", "memory.db"),
		Driver: driver,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk("", 500, 50))
	assert.Nil(t, Chunk("   \n", 500, 50))
	assert.Equal(t, []string{"hello"}, Chunk("  hello ", 500, 50))

	chunks := Chunk(strings.Repeat("x", 1200), 500, 50)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 500)
	assert.Len(t, chunks[1], 500)
	assert.Len(t, chunks[2], 300)
}

func TestChunkKeepsWordsWhole(t *testing.T) {
	text := strings.Repeat("word ", 400)
	chunks := Chunk(text, 500, 50)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 500, "chunk %d", i)
		for _, f := range strings.Fields(c) {
			assert.Equal(t, "word", f, "chunk %d", i)
		}
	}
}

func TestChunkRunes(t *testing.T) {
	chunks := Chunk(strings.Repeat("é", 120), 50, 10)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50)
	}
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(context.Background(), Config{Path: "x.db", Driver: "postgres"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{})
	assert.Error(t, err)
}

func TestStoreAndRetrieve(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s := openTestStore(t, driver)
			ctx := context.Background()

			require.NoError(t, s.Store(ctx, "User: what's the weather in Paris\nAssistant: sunny and 24 degrees", nil))
			require.NoError(t, s.Store(ctx, "User: order a pizza\nAssistant: I cannot order food", nil))
			require.NoError(t, s.Store(ctx, "", map[string]string{"role": "empty"}))

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			got, err := s.Retrieve(ctx, "Paris weather?", 3)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Contains(t, got[0], "Paris")

			got, err = s.Retrieve(ctx, "", 3)
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = s.Retrieve(ctx, "pizza", 0)
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = s.Retrieve(ctx, "unrelated", 3)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestRetrieveWithoutTermsReturnsRecent(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s := openTestStore(t, driver)
			ctx := context.Background()

			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, text := range []string{"first", "second", "third"} {
				s.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
				require.NoError(t, s.Store(ctx, text, nil))
			}

			got, err := s.Retrieve(ctx, "?!", 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"third", "second"}, got)
		})
	}
}

func TestRetrieveQuotesOperators(t *testing.T) {
	s := openTestStore(t, DriverPureGo)
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, "NEAR the station AND the park", nil))

	got, err := s.Retrieve(ctx, `station" OR NOT (park*`, 3)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestChunkMetadata(t *testing.T) {
	s := openTestStore(t, DriverPureGo)
	ctx := context.Background()

	text := strings.Repeat("lighthouse ", 100)
	require.NoError(t, s.Store(ctx, text, map[string]string{"role": "conversation"}))

	recs, err := s.Search(ctx, "lighthouse", 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	source := recs[0].Metadata["source_id"]
	assert.NotEmpty(t, source)
	seen := map[string]bool{}
	for _, r := range recs {
		assert.Equal(t, "conversation", r.Metadata["role"])
		assert.Equal(t, "3", r.Metadata["total_chunks"])
		assert.Equal(t, source, r.Metadata["source_id"])
		seen[r.Metadata["chunk_index"]] = true
	}
	assert.Equal(t, map[string]bool{"0": true, "1": true, "2": true}, seen)
}

func TestPrune(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s := openTestStore(t, driver)
			ctx := context.Background()

			now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			s.now = func() time.Time { return now.Add(-40 * 24 * time.Hour) }
			require.NoError(t, s.Store(ctx, "old note about tulips", nil))
			s.now = func() time.Time { return now }
			require.NoError(t, s.Store(ctx, "new note about tulips", nil))

			deleted, err := s.Prune(ctx, 30*24*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, int64(1), deleted)

			got, err := s.Retrieve(ctx, "tulips", 5)
			require.NoError(t, err)
			assert.Equal(t, []string{"new note about tulips"}, got)
		})
	}
}

func TestPruner(t *testing.T) {
	s := openTestStore(t, DriverPureGo)
	ctx := context.Background()

	_, err := NewPruner(s, "not a schedule", time.Hour)
	assert.Error(t, err)

	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	require.NoError(t, s.Store(ctx, "stale", nil))
	s.now = time.Now

	p, err := NewPruner(s, "", time.Hour)
	require.NoError(t, err)
	p.run()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	disabled, err := NewPruner(s, "", 0)
	require.NoError(t, err)
	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	assert.NoError(t, disabled.Run(runCtx))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	got := truncate("x"+strings.Repeat("日本", 10), 6)
	assert.Equal(t, "x日本日本日...", got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "日本", truncate("日本", 6))
}

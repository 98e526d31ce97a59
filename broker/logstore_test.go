package broker

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	weblink "github.com/duke1swd/weblinkGo/library"
)

func newTestStore(t *testing.T) *LogStore {
	t.Helper()

	s, err := OpenLogStore(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// Sessions append from their own goroutines.
	var clock atomic.Int64
	clock.Store(1700000000000)
	s.now = func() time.Time {
		return time.UnixMilli(clock.Add(1000))
	}

	return s
}

func TestLogStore_QueryFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Append(ctx, "urn:n1", "c1", "first message"))
	require.NoError(t, s.Append(ctx, "urn:n2", "c1", "second message"))
	require.NoError(t, s.Append(ctx, "urn:n1", "c2", "third"))

	all, err := s.Query(ctx, weblink.LogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, LogRow{Timestamp: 1700000001000, URN: "urn:n1", Category: "c1", Msg: "first message"}, all[0])

	tests := []struct {
		name   string
		filter weblink.LogFilter
		want   []string
	}{
		{"urn", weblink.LogFilter{URN: "n1"}, []string{"first message", "third"}},
		{"urn and category", weblink.LogFilter{URN: "n1", Category: "c1"}, []string{"first message"}},
		{"message", weblink.LogFilter{Message: "message"}, []string{"first message", "second message"}},
		{"time", weblink.LogFilter{Time: "1700000002"}, []string{"second message"}},
		{"nothing", weblink.LogFilter{URN: "n9"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.Query(ctx, tt.filter)
			require.NoError(t, err)

			var msgs []string
			for _, r := range rows {
				msgs = append(msgs, r.Msg)
			}
			assert.Equal(t, tt.want, msgs)
		})
	}
}

func TestLogStore_EmptyResultIsNotNil(t *testing.T) {
	s := newTestStore(t)

	rows, err := s.Query(context.Background(), weblink.LogFilter{})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestLogStore_FileIsRecreated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "log.db")

	s, err := OpenLogStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "urn:n", "", "old"))
	require.NoError(t, s.Close())

	s, err = OpenLogStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.Query(ctx, weblink.LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLogStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Append(ctx, "urn:n", "c", "m"))
		}()
	}
	wg.Wait()

	rows, err := s.Query(ctx, weblink.LogFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 8)

	seen := make(map[int64]bool)
	for _, r := range rows {
		seen[r.Timestamp] = true
	}
	assert.Len(t, seen, 8, "every append gets its own tick")
}

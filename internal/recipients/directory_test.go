package recipients

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

type failingStore struct {
	*storage.Memory
	fail bool
}

func (f *failingStore) AddRecipient(ctx context.Context, id int64, at time.Time) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Memory.AddRecipient(ctx, id, at)
}

func TestLoadKeepsStoreOrder(t *testing.T) {
	d, err := Load(context.Background(), storage.NewMemory(3, 1, 2), logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, d.Snapshot())
	assert.Equal(t, 3, d.Len())
	assert.True(t, d.Contains(1))
	assert.False(t, d.Contains(4))
}

func TestAddIsIdempotentAndPersists(t *testing.T) {
	st := storage.NewMemory()
	d, err := Load(context.Background(), st, logx.Nop())
	require.NoError(t, err)

	added, err := d.Add(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = d.Add(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, []int64{7}, d.Snapshot())
	ids, err := st.LoadRecipients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ids)
}

func TestAddStoreFailureLeavesSetUnchanged(t *testing.T) {
	st := &failingStore{Memory: storage.NewMemory(), fail: true}
	d, err := Load(context.Background(), st, logx.Nop())
	require.NoError(t, err)

	added, err := d.Add(context.Background(), 9)
	assert.Error(t, err)
	assert.False(t, added)
	assert.False(t, d.Contains(9))
	assert.Zero(t, d.Len())
}

func TestSnapshotIsIsolatedFromLaterAdds(t *testing.T) {
	d, err := Load(context.Background(), storage.NewMemory(1, 2), logx.Nop())
	require.NoError(t, err)

	snap := d.Snapshot()
	_, err = d.Add(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2}, snap)
	snap[0] = 99
	assert.Equal(t, []int64{1, 2, 3}, d.Snapshot())
}

func TestConcurrentAdds(t *testing.T) {
	d, err := Load(context.Background(), storage.NewMemory(), logx.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = d.Add(context.Background(), id%10)
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 10, d.Len())
}

package credential

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ReelStudio-server/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.Migrate(db))
	return db
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := NewStatic("  key-1 ")
	key, err := s.APIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key-1", key)

	require.NoError(t, s.Invalidate(ctx))
	_, err = s.APIKey(ctx)
	assert.ErrorIs(t, err, ErrMissing)
	assert.False(t, Present(ctx, s))

	require.NoError(t, s.Set(ctx, "key-2"))
	assert.True(t, Present(ctx, s))

	_, err = NewStatic("").APIKey(ctx)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestStaticConcurrentInvalidate(t *testing.T) {
	ctx := context.Background()
	s := NewStatic("key")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.APIKey(ctx)
		}()
		go func() {
			defer wg.Done()
			_ = s.Invalidate(ctx)
		}()
	}
	wg.Wait()
	assert.False(t, Present(ctx, s))
}

func TestDBStore(t *testing.T) {
	ctx := context.Background()
	store := NewDBStore(openTestDB(t))

	_, err := store.APIKey(ctx)
	assert.ErrorIs(t, err, ErrMissing)

	require.NoError(t, store.Seed(ctx, "from-config"))
	key, err := store.APIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-config", key)

	require.NoError(t, store.Invalidate(ctx))
	_, err = store.APIKey(ctx)
	assert.ErrorIs(t, err, ErrMissing)

	// a restart must not resurrect the invalidated config key
	require.NoError(t, store.Seed(ctx, "from-config"))
	_, err = store.APIKey(ctx)
	assert.ErrorIs(t, err, ErrMissing)

	require.NoError(t, store.Set(ctx, "reacquired"))
	key, err = store.APIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reacquired", key)

	assert.Error(t, store.Set(ctx, "  "))
}

func TestDBStoreSharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	api, worker := NewDBStore(db), NewDBStore(db)

	require.NoError(t, api.Set(ctx, "k"))
	assert.True(t, Present(ctx, worker))

	require.NoError(t, worker.Invalidate(ctx))
	assert.False(t, Present(ctx, api))
}

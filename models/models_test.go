package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func TestTaskLifecycle(t *testing.T) {
	db := openTestDB(t)
	task := &GenerationTask{ID: uuid.NewString(), Kind: "video", Prompt: "a fox"}
	require.NoError(t, CreateTask(db, task))
	assert.Equal(t, TaskStatusPending, task.Status)

	require.NoError(t, task.MarkSubmitted(db, "operations/1", "Video job submitted"))
	require.NoError(t, task.UpdateProgress(db, TaskStatusPolling, "Processing frames...", 2))
	require.NoError(t, task.MarkSucceeded(db, "https://files/1", "asset-1"))

	got, err := GetTaskByID(db, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusSucceeded, got.Status)
	assert.Equal(t, "operations/1", got.RemoteJobID)
	assert.Equal(t, 2, got.PollCount)
	assert.Equal(t, "https://files/1", got.ResultURI)
	assert.Equal(t, "asset-1", got.AssetID)
	assert.Empty(t, got.Error)
	assert.Empty(t, got.ErrorKind)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	assert.ErrorIs(t, task.MarkFailed(db, "transport", "late"), ErrTaskTerminal)
	assert.ErrorIs(t, task.UpdateProgress(db, TaskStatusPolling, "again", 3), ErrTaskTerminal)
}

func TestMarkFailedClearsResult(t *testing.T) {
	db := openTestDB(t)
	task := &GenerationTask{ID: uuid.NewString(), Kind: "image", Prompt: "p"}
	require.NoError(t, CreateTask(db, task))
	require.NoError(t, task.MarkFailed(db, "no_content", "no image data found in response"))

	got, err := GetTaskByID(db, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, got.Status)
	assert.Equal(t, "no_content", got.ErrorKind)
	assert.Equal(t, "no image data found in response", got.Error)
	assert.Empty(t, got.ResultURI)
	assert.Empty(t, got.AssetID)
}

func TestStaleCopyCannotReopenTask(t *testing.T) {
	db := openTestDB(t)
	task := &GenerationTask{ID: uuid.NewString(), Kind: "video", Prompt: "p"}
	require.NoError(t, CreateTask(db, task))

	stale, err := GetTaskByID(db, task.ID)
	require.NoError(t, err)

	require.NoError(t, task.MarkFailed(db, "canceled", "generation canceled"))
	assert.ErrorIs(t, stale.MarkSucceeded(db, "uri", "asset"), ErrTaskTerminal)

	got, err := GetTaskByID(db, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, got.Status)
	assert.Empty(t, got.ResultURI)
}

func TestGetTaskByIDNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := GetTaskByID(db, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestListAssetsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().Add(-time.Hour)
	for i, typ := range []string{AssetTypeScript, AssetTypeImage, AssetTypeVideo} {
		require.NoError(t, CreateAsset(db, &Asset{
			ID:        typ,
			Type:      typ,
			Prompt:    "p",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	assets, err := ListAssets(db, 0)
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, []string{"video", "image", "script"}, []string{assets[0].ID, assets[1].ID, assets[2].ID})

	assets, err = ListAssets(db, 1)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, AssetTypeVideo, assets[0].Type)

	a, err := GetAssetByID(db, "image")
	require.NoError(t, err)
	assert.Equal(t, AssetTypeImage, a.Type)
}

func TestCredentialUpsertAndInvalidate(t *testing.T) {
	db := openTestDB(t)
	_, err := GetCredential(db, "gemini")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.NoError(t, UpsertCredential(db, "gemini", "k1"))
	require.NoError(t, InvalidateCredential(db, "gemini"))
	c, err := GetCredential(db, "gemini")
	require.NoError(t, err)
	assert.False(t, c.Valid)
	assert.Equal(t, "k1", c.Token)

	require.NoError(t, UpsertCredential(db, "gemini", "k2"))
	c, err = GetCredential(db, "gemini")
	require.NoError(t, err)
	assert.True(t, c.Valid)
	assert.Equal(t, "k2", c.Token)
}

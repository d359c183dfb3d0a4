package synchistory_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/repositories/synchistory"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	// Use environment variables or defaults for test DB
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "postgres"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "postgres"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "clover"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

// insertRun persists a run and registers cleanup for its audit row.
func insertRun(t *testing.T, db database.DB, repo *synchistory.Repository, run models.SyncRun) {
	t.Helper()
	require.NoError(t, repo.Insert(context.Background(), run))
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), "DELETE FROM sync_history WHERE id = $1", run.ID)
	})
}

func TestSyncHistoryRepository_InsertAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := synchistory.NewRepository(db, getTestLogger())
	ctx := context.Background()

	now := time.Now().UTC()
	oldest := models.SyncRun{
		ID:         uuid.New(),
		Kind:       models.SyncKindFull,
		Status:     models.SyncStatusCompleted,
		StartedAt:  now.Add(-3 * time.Minute),
		FinishedAt: now.Add(-2 * time.Minute),
		Total:      10,
		Created:    4,
		Updated:    5,
		Skipped:    1,
		Errors:     []string{"rec-9: workspace api unreachable"},
	}
	middle := models.SyncRun{
		ID:         uuid.New(),
		Kind:       models.SyncKindIncremental,
		Status:     models.SyncStatusFailed,
		StartedAt:  now.Add(-2 * time.Minute),
		FinishedAt: now.Add(-90 * time.Second),
	}
	newest := models.SyncRun{
		ID:         uuid.New(),
		Kind:       models.SyncKindIncremental,
		Status:     models.SyncStatusCompleted,
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
		Total:      2,
		Updated:    2,
	}

	insertRun(t, db, repo, oldest)
	insertRun(t, db, repo, middle)
	insertRun(t, db, repo, newest)

	rows, err := repo.ListRecent(ctx, 100)
	require.NoError(t, err)

	// The table is shared, so only assert the relative order of our rows
	positions := map[uuid.UUID]int{}
	for i, row := range rows {
		positions[row.ID] = i
	}
	require.Contains(t, positions, oldest.ID)
	require.Contains(t, positions, middle.ID)
	require.Contains(t, positions, newest.ID)
	assert.Less(t, positions[newest.ID], positions[middle.ID], "newest first")
	assert.Less(t, positions[middle.ID], positions[oldest.ID])

	fetched := rows[positions[oldest.ID]]
	assert.Equal(t, models.SyncKindFull, fetched.Kind)
	assert.Equal(t, models.SyncStatusCompleted, fetched.Status)
	assert.Equal(t, 10, fetched.Total)
	assert.Equal(t, 4, fetched.Created)
	assert.Equal(t, 5, fetched.Updated)
	assert.Equal(t, 1, fetched.Skipped)
	assert.Equal(t, 1, fetched.ErrorCount)
	assert.WithinDuration(t, oldest.StartedAt, fetched.StartedAt, time.Second)
	assert.WithinDuration(t, oldest.FinishedAt, fetched.FinishedAt, time.Second)
}

func TestSyncHistoryRepository_ClampsLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := synchistory.NewRepository(db, getTestLogger())
	ctx := context.Background()

	for _, limit := range []int{0, -5, 500} {
		rows, err := repo.ListRecent(ctx, limit)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(rows), 20, "out of range limits fall back to the default")
	}
}

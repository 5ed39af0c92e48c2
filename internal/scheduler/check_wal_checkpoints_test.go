package scheduler

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/database"
	testingpkg "github.com/aristath/sftrader/internal/testing"
)

func TestCheckWALCheckpointsJob_Name(t *testing.T) {
	job := NewCheckWALCheckpointsJob(nil, zerolog.Nop())
	assert.Equal(t, "check_wal_checkpoints", job.Name())
}

func TestCheckWALCheckpointsJob_Run_NoDatabases(t *testing.T) {
	job := NewCheckWALCheckpointsJob(map[string]*database.DB{"cache": nil}, zerolog.Nop())

	assert.NoError(t, job.Run(context.Background()))
	assert.Empty(t, job.Last())
}

func TestCheckWALCheckpointsJob_Run(t *testing.T) {
	runs, cleanupRuns := testingpkg.NewTestDB(t, database.NameRuns)
	defer cleanupRuns()
	cache, cleanupCache := testingpkg.NewTestDB(t, database.NameCache)
	defer cleanupCache()

	job := NewCheckWALCheckpointsJob(map[string]*database.DB{
		database.NameRuns:  runs,
		database.NameCache: cache,
	}, zerolog.Nop())

	require.NoError(t, job.Run(context.Background()))
	statuses := job.Last()
	require.Len(t, statuses, 2)
	assert.Equal(t, database.NameCache, statuses[0].Database)
	assert.Equal(t, database.NameRuns, statuses[1].Database)
}

func TestCheckWALCheckpointsJob_Run_AllFail(t *testing.T) {
	cache, cleanup := testingpkg.NewTestDB(t, database.NameCache)
	cleanup()

	job := NewCheckWALCheckpointsJob(map[string]*database.DB{database.NameCache: cache}, zerolog.Nop())
	assert.Error(t, job.Run(context.Background()))
}

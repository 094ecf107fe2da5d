package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/testutil/fixtures"
	"github.com/BaSui01/agentmesh/types"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type repoFactory func(t *testing.T) AgentRepository

func backends() map[string]repoFactory {
	return map[string]repoFactory{
		"memory": func(t *testing.T) AgentRepository { return NewMemoryRepository() },
		"redis": func(t *testing.T) AgentRepository {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisRepository(client, "test:", nil)
		},
		"gorm": func(t *testing.T) AgentRepository {
			db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "agents.db")), &gorm.Config{
				Logger: logger.Default.LogMode(logger.Silent),
			})
			require.NoError(t, err)
			repo := NewGormRepository(db, nil)
			require.NoError(t, repo.AutoMigrate(context.Background()))
			return repo
		},
	}
}

func TestRepository_Contract(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("save and get", func(t *testing.T) { testSaveAndGet(t, factory(t)) })
			t.Run("last writer wins", func(t *testing.T) { testLastWriterWins(t, factory(t)) })
			t.Run("find by capabilities", func(t *testing.T) { testFindByCapabilities(t, factory(t)) })
			t.Run("tenant isolation", func(t *testing.T) { testTenantIsolation(t, factory(t)) })
		})
	}
}

func testSaveAndGet(t *testing.T, repo AgentRepository) {
	ctx := context.Background()
	rec := fixtures.Agent("agent-1").Cap("search", 4).Tags("gpu").History(2, 1).Pending("t1", "t2").Build()
	require.NoError(t, repo.Save(ctx, rec))

	got, err := repo.Get(ctx, fixtures.DefaultTenant, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID(), got.ID())
	assert.Equal(t, rec.Status(), got.Status())
	assert.Equal(t, []string{"t1", "t2"}, got.PendingQueue())
	assert.Equal(t, int64(2), got.TasksCompleted())
	assert.Equal(t, int64(1), got.TasksFailed())
	assert.Equal(t, rec.Version(), got.Version())
	assert.True(t, got.HasTag("gpu"))
	assert.True(t, rec.LastHeartbeat().Equal(got.LastHeartbeat()))

	_, err = repo.Get(ctx, fixtures.DefaultTenant, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func testLastWriterWins(t *testing.T, repo AgentRepository) {
	ctx := context.Background()
	rec := fixtures.Agent("agent-1").Build()
	require.NoError(t, repo.Save(ctx, rec))

	busy, err := rec.AssignTask("task-9")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, busy))

	got, err := repo.Get(ctx, fixtures.DefaultTenant, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusBusy, got.Status())
	active, ok := got.ActiveTaskID()
	assert.True(t, ok)
	assert.Equal(t, "task-9", active)

	all, err := repo.List(ctx, fixtures.DefaultTenant)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testFindByCapabilities(t *testing.T, repo AgentRepository) {
	ctx := context.Background()
	for _, rec := range []agent.Record{
		fixtures.Agent("agent-c").Cap("nlp", 3).Cap("search", 2).Build(),
		fixtures.Agent("agent-a").Cap("nlp", 5).Build(),
		fixtures.Agent("agent-b").Cap("data_processing", 4).Build(),
		fixtures.Agent("agent-d").Cap("dataXprocessing", 4).Build(),
	} {
		require.NoError(t, repo.Save(ctx, rec))
	}

	found, err := repo.FindByCapabilities(ctx, []string{"nlp"}, fixtures.DefaultTenant)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a", "agent-c"}, ids(found))

	found, err = repo.FindByCapabilities(ctx, []string{"nlp", "search"}, fixtures.DefaultTenant)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-c"}, ids(found))

	found, err = repo.FindByCapabilities(ctx, []string{"data_processing"}, fixtures.DefaultTenant)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-b"}, ids(found), "underscore is matched literally")

	found, err = repo.FindByCapabilities(ctx, []string{"vision"}, fixtures.DefaultTenant)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = repo.FindByCapabilities(ctx, nil, fixtures.DefaultTenant)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a", "agent-b", "agent-c", "agent-d"}, ids(found))
}

func testTenantIsolation(t *testing.T, repo AgentRepository) {
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, fixtures.Agent("agent-1").Cap("nlp", 3).Build()))
	require.NoError(t, repo.Save(ctx, fixtures.Agent("agent-1").Tenant("tenant-b").Cap("nlp", 1).Build()))

	a, err := repo.FindByCapabilities(ctx, []string{"nlp"}, fixtures.DefaultTenant)
	require.NoError(t, err)
	require.Len(t, a, 1)
	c, _ := a[0].Capability("nlp")
	assert.Equal(t, 3, c.Proficiency)

	b, err := repo.Get(ctx, "tenant-b", "agent-1")
	require.NoError(t, err)
	c, _ = b.Capability("nlp")
	assert.Equal(t, 1, c.Proficiency)

	none, err := repo.List(ctx, "tenant-z")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func ids(recs []agent.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID()
	}
	return out
}

func TestMemoryRepository_Closed(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, repo.Ping(context.Background()))
	require.NoError(t, repo.Close())

	assert.ErrorIs(t, repo.Save(context.Background(), fixtures.Agent("agent-1").Build()), ErrStoreClosed)
	_, err := repo.List(context.Background(), fixtures.DefaultTenant)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, repo.Ping(context.Background()), ErrStoreClosed)
}

func TestMemoryRepository_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := NewMemoryRepository()
	assert.ErrorIs(t, repo.Save(ctx, fixtures.Agent("agent-1").Build()), context.Canceled)
}

func TestRedisRepository_KeysAndUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	repo := NewRedisRepository(client, "", nil)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, fixtures.Agent("agent-1").Cap("nlp", 3).Build()))
	assert.True(t, mr.Exists("agentmesh:agents:"+fixtures.DefaultTenant))
	members, err := mr.Members("agentmesh:agents:" + fixtures.DefaultTenant + ":cap:nlp")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-1"}, members)
	require.NoError(t, repo.Ping(ctx))

	// Corrupt entries are skipped rather than failing the whole listing.
	mr.HSet("agentmesh:agents:"+fixtures.DefaultTenant, "agent-2", "{not json")
	all, err := repo.List(ctx, fixtures.DefaultTenant)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-1"}, ids(all))

	mr.Close()
	err = repo.Save(ctx, fixtures.Agent("agent-3").Build())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func newMockGorm(t *testing.T) (*GormRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormRepository(db, nil), mock
}

func TestGormRepository_ErrorPaths(t *testing.T) {
	ctx := context.Background()

	t.Run("query failure is wrapped", func(t *testing.T) {
		repo, mock := newMockGorm(t)
		mock.ExpectQuery(`SELECT .* FROM "agents"`).WillReturnError(errors.New("connection reset"))

		_, err := repo.Get(ctx, "t1", "agent-1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("no rows is not found", func(t *testing.T) {
		repo, mock := newMockGorm(t)
		mock.ExpectQuery(`SELECT .* FROM "agents"`).WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id"}))

		_, err := repo.Get(ctx, "t1", "agent-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("find failure", func(t *testing.T) {
		repo, mock := newMockGorm(t)
		mock.ExpectQuery(`SELECT .* FROM "agents" WHERE .*capabilities LIKE`).
			WillReturnError(errors.New("timeout"))

		_, err := repo.FindByCapabilities(ctx, []string{"nlp"}, "t1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "find agents")
	})

	t.Run("save failure", func(t *testing.T) {
		repo, _ := newMockGorm(t)
		err := repo.Save(ctx, fixtures.Agent("agent-1").Build())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "save agent agent-1")
	})
}

func TestCapabilityColumn(t *testing.T) {
	assert.Equal(t, ",", capabilityColumn(nil))
	assert.Equal(t, ",nlp,search,", capabilityColumn([]string{"nlp", "search"}))
}

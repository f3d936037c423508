package db

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
)

func newMockClient(t *testing.T, driver string) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return NewClientFromDB(sqlx.NewDb(raw, driver), zaptest.NewLogger(t)), mock
}

func TestGetMultiAgent(t *testing.T) {
	c, mock := newMockClient(t, DriverPostgres)
	now := time.Date(2025, 5, 3, 11, 1, 53, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM multi_agents WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "agent_ids", "created_at", "updated_at"}).
			AddRow(7, "Finance Desk", []byte(`[3,1,2]`), now, now))

	ma, err := c.GetMultiAgent(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Finance Desk", ma.Name)
	assert.Equal(t, []int64{3, 1, 2}, ma.AgentIDs)
	assert.Equal(t, now, ma.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMultiAgentNotFound(t *testing.T) {
	c, mock := newMockClient(t, DriverPostgres)
	mock.ExpectQuery("FROM multi_agents").WillReturnError(sql.ErrNoRows)

	_, err := c.GetMultiAgent(context.Background(), 99)
	assert.True(t, errors.Is(err, ErrMultiAgentNotFound))
}

func TestGetAgentsKeepsRequestedOrder(t *testing.T) {
	c, mock := newMockClient(t, DriverPostgres)
	mock.ExpectQuery(regexp.QuoteMeta("FROM agents WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "vector_collection"}).
			AddRow(1, 10, "Ledger", "ledger_docs").
			AddRow(2, 10, "CRM", "crm_docs").
			AddRow(3, 10, "Support", "support_docs"))

	agents, err := c.GetAgents(context.Background(), []int64{3, 1, 42, 2})
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, "Support", agents[0].Name)
	assert.Equal(t, "Ledger", agents[1].Name)
	assert.Equal(t, "crm_docs", agents[2].VectorCollection)
}

func TestGetAgentsSQLiteExpandsIn(t *testing.T) {
	c, mock := newMockClient(t, DriverSQLite)
	mock.ExpectQuery(regexp.QuoteMeta("FROM agents WHERE id IN (?, ?)")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "vector_collection"}).
			AddRow(2, 0, "CRM", "crm_docs").
			AddRow(1, 0, "Ledger", "ledger_docs"))

	agents, err := c.GetAgents(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ledger", "CRM"}, []string{agents[0].Name, agents[1].Name})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAgentsEmpty(t *testing.T) {
	c, _ := newMockClient(t, DriverPostgres)
	agents, err := c.GetAgents(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestGetMultiAgentRelations(t *testing.T) {
	c, mock := newMockClient(t, DriverPostgres)
	mock.ExpectQuery("FROM multi_agent_relations").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "multi_agent_id", "source_agent_id", "target_agent_id", "join_key", "description", "confidence"}).
			AddRow(1, 7, 1, 2, "customer_id", nil, nil).
			AddRow(2, 7, 2, 3, "ticket_ref", "crm to support", 0.8))

	rels, err := c.GetMultiAgentRelations(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, "customer_id", rels[0].JoinKey)
	assert.Equal(t, "", rels[0].Description)
	assert.Equal(t, 0.8, rels[1].Confidence)
	assert.Equal(t, int64(7), rels[1].MultiAgentID)
}

func TestMultiAgentNameExists(t *testing.T) {
	c, mock := newMockClient(t, DriverPostgres)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE LOWER(name) = LOWER($1)")).
		WithArgs("finance desk").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := c.MultiAgentNameExists(context.Background(), "finance desk")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateMultiAgentInTransaction(t *testing.T) {
	c, mock := newMockClient(t, DriverPostgres)
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO multi_agents").
		WithArgs("Finance Desk", "[1,2]").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(11, now, now))
	mock.ExpectExec("INSERT INTO multi_agent_relations").
		WithArgs(int64(11), int64(1), int64(2), "customer_id", sqlmock.AnyArg(), 0.9).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ma := &models.MultiAgent{Name: "Finance Desk", AgentIDs: []int64{1, 2}}
	rels := []models.Relation{{SourceAgentID: 1, TargetAgentID: 2, JoinKey: "customer_id", Confidence: 0.9}}
	require.NoError(t, c.CreateMultiAgent(context.Background(), ma, rels))

	assert.Equal(t, int64(11), ma.ID)
	assert.Equal(t, now, ma.CreatedAt)
	require.Len(t, ma.Relations, 1)
	assert.Equal(t, int64(11), ma.Relations[0].MultiAgentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMultiAgentRollsBack(t *testing.T) {
	c, mock := newMockClient(t, DriverPostgres)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO multi_agents").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(11, "2025-05-03 11:01:53", "2025-05-03 11:01:53"))
	mock.ExpectExec("INSERT INTO multi_agent_relations").WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	ma := &models.MultiAgent{Name: "X", AgentIDs: []int64{1, 2}}
	err := c.CreateMultiAgent(context.Background(), ma, []models.Relation{{SourceAgentID: 1, TargetAgentID: 5, JoinKey: "k"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fk violation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAgentRelation(t *testing.T) {
	c, mock := newMockClient(t, DriverPostgres)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (source_agent_id, target_agent_id, join_key)")).
		WithArgs(int64(1), int64(2), "customer id", sqlmock.AnyArg(), 0.91).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.UpsertAgentRelation(context.Background(), models.Relation{
		SourceAgentID: 1, TargetAgentID: 2, JoinKey: "customer id",
		Description: "Suggested join key", Confidence: 0.91,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInt64ListScan(t *testing.T) {
	var l Int64List
	require.NoError(t, l.Scan(`[4,5]`))
	assert.Equal(t, Int64List{4, 5}, l)
	require.NoError(t, l.Scan(nil))
	assert.Empty(t, l)
	assert.Error(t, l.Scan(42))
	assert.Error(t, l.Scan([]byte("not json")))

	v, err := Int64List(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestSQLTimeScan(t *testing.T) {
	var ts sqlTime
	require.NoError(t, ts.Scan("2025-05-03 11:01:53"))
	assert.Equal(t, 2025, ts.Year())
	require.NoError(t, ts.Scan([]byte("2025-05-03T11:01:53Z")))
	assert.Equal(t, 11, ts.Hour())
	assert.Error(t, ts.Scan("yesterday"))
}

func TestConfigDSN(t *testing.T) {
	pg := &Config{Host: "db", Port: 5432, User: "u", Password: "p", Database: "rag"}
	pg.applyDefaults()
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=rag sslmode=disable", pg.DSN())

	lite := &Config{Driver: DriverSQLite}
	lite.applyDefaults()
	assert.Equal(t, "file:multiagent.db?_foreign_keys=on&_busy_timeout=5000", lite.DSN())
	assert.Equal(t, 1, lite.MaxConnections)
}

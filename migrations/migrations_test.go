package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLScripts(t *testing.T) {
	scripts, err := MySQL()
	require.NoError(t, err)
	require.Len(t, scripts, 1)

	stmts := scripts[0].Statements()
	require.Len(t, stmts, 5)
	for _, table := range []string{"authors", "posts", "subscribers", "deliveries", "jobs"} {
		assert.True(t, strings.Contains(scripts[0].SQL, "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
	assert.Contains(t, scripts[0].SQL, "UNIQUE KEY uq_deliveries_post_subscriber (post_id, subscriber_id)")
	assert.Contains(t, scripts[0].SQL, "UNIQUE KEY uq_jobs_singleton (queue, singleton_on)")
}

func TestClickHouseScripts(t *testing.T) {
	scripts, err := ClickHouse()
	require.NoError(t, err)
	require.Len(t, scripts, 1)

	stmts := scripts[0].Statements()
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE DATABASE"))
	assert.Contains(t, stmts[1], "newsletter.delivery_events")
}

package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, "0001_settlement.sql", migrations[0].Version)

	schema := migrations[0].SQL
	for _, table := range []string{"oppdrag", "oppdrag_linje", "avstemming"} {
		assert.True(t, strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
	assert.Contains(t, schema, "UNIQUE (decision_id)")
	assert.Contains(t, schema, "UNIQUE (supersedes_line_id)")
	assert.Contains(t, schema, "UNIQUE (period_from)")
}

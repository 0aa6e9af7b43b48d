package database

import (
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestMigrate(t *testing.T) {
	t.Run("applies the schema in one exec", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectExec("CREATE TABLE IF NOT EXISTS partners").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, Migrate(db))
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("reports exec failure", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		dbMock.ExpectExec("CREATE TABLE IF NOT EXISTS partners").
			WillReturnError(assert.AnError)

		assert.Error(t, Migrate(db))
	})
}

func TestSchemaIdempotencyIndexes(t *testing.T) {
	// The processors rely on these indexes for replay safety.
	assert.Contains(t, Schema, "uniq_completed_order_payment")
	assert.Contains(t, Schema, "uniq_completed_commission")
	assert.Contains(t, Schema, "uniq_external_ref")
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		assert.Contains(t, stmt, "IF NOT EXISTS")
	}
}

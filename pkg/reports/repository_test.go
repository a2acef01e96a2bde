package reports

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/qivo-mining/platform/pkg/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type capturedStatement struct {
	sql  string
	vars []interface{}
}

// dryRunDB builds SQL without a server and records each UPDATE.
func dryRunDB(t *testing.T) (*gorm.DB, func() []capturedStatement) {
	t.Helper()
	db, err := gorm.Open(postgres.Open("host=localhost user=qivo dbname=qivo sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var captured []capturedStatement
	require.NoError(t, db.Callback().Update().After("gorm:update").Register("test:capture", func(tx *gorm.DB) {
		mu.Lock()
		defer mu.Unlock()
		captured = append(captured, capturedStatement{sql: tx.Statement.SQL.String(), vars: tx.Statement.Vars})
	}))
	return db, func() []capturedStatement {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedStatement(nil), captured...)
	}
}

func TestSaveParsedWritesStatusAndSummary(t *testing.T) {
	db, statements := dryRunDB(t)
	repo := NewRepository(db)

	err := repo.SaveParsed(context.Background(), "R1", models.ParsedReport{
		Status:           models.ReportStatusNeedsReview,
		DetectedStandard: "JORC_2012",
		NormalizedURL:    "redis://normalized:t1:R1",
		Summary:          models.ParsingSummary{DetectedStandard: "JORC_2012", UncertainFields: 2},
	})
	require.NoError(t, err)

	got := statements()
	require.Len(t, got, 1)
	sql := got[0].sql
	assert.True(t, strings.HasPrefix(sql, `UPDATE "reports" SET`))
	for _, column := range []string{`"status"`, `"standard"`, `"detected_standard"`, `"s3_normalized_url"`, `"parsing_summary"`, `"updated_at"`} {
		assert.Contains(t, sql, column)
	}
	assert.Contains(t, sql, `WHERE id = $`)
	assert.Contains(t, got[0].vars, "R1")
	assert.Contains(t, got[0].vars, models.ReportStatusNeedsReview)
}

func TestMarkFailedSetsParsingFailed(t *testing.T) {
	db, statements := dryRunDB(t)
	repo := NewRepository(db)

	require.NoError(t, repo.MarkFailed(context.Background(), "R9", models.ParsingSummary{Error: "corrupted file"}))

	got := statements()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].sql, `"parsing_summary"`)
	assert.NotContains(t, got[0].sql, `"detected_standard"`)
	assert.Contains(t, got[0].vars, models.ReportStatusParsingFailed)
}

func TestMarkParsingScopesToTenant(t *testing.T) {
	db, statements := dryRunDB(t)
	repo := NewRepository(db)

	// Dry runs never touch a row, which is the not-found path.
	err := repo.MarkParsing(context.Background(), "R1", "tenant-a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, models.ErrReportNotFound)

	got := statements()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].sql, "tenant_id = $")
	assert.Contains(t, got[0].vars, "tenant-a")
}

func TestReportSummary(t *testing.T) {
	rep := Report{ID: "R1"}
	assert.Equal(t, models.ParsingSummary{}, rep.Summary())

	rep.ParsingSummary = datatypes.NewJSONType(models.ParsingSummary{DetectedStandard: "PERC", TotalFields: 12})
	assert.Equal(t, "PERC", rep.Summary().DetectedStandard)
	assert.Equal(t, 12, rep.Summary().TotalFields)
}

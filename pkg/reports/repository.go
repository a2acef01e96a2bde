package reports

import (
	"context"
	"errors"
	"time"

	"github.com/qivo-mining/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotFound aliases the shared sentinel so callers outside this package
// can match it without importing gorm.
var ErrNotFound = models.ErrReportNotFound

type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Report{})
}

func (r *Repository) Get(ctx context.Context, id string) (*Report, error) {
	var rep Report
	result := r.db.WithContext(ctx).First(&rep, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &rep, nil
}

// MarkParsing moves a tenant's report into the parsing state.
func (r *Repository) MarkParsing(ctx context.Context, reportID, tenantID string) error {
	result := r.db.WithContext(ctx).Model(&Report{}).
		Where("id = ? AND tenant_id = ?", reportID, tenantID).
		Updates(map[string]interface{}{
			"status":     models.ReportStatusParsing,
			"updated_at": r.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveParsed records a successful parse. Concurrent writers are not
// coordinated; the last update wins.
func (r *Repository) SaveParsed(ctx context.Context, reportID string, update models.ParsedReport) error {
	return r.db.WithContext(ctx).Model(&Report{}).
		Where("id = ?", reportID).
		Updates(map[string]interface{}{
			"status":            update.Status,
			"standard":          update.DetectedStandard,
			"detected_standard": update.DetectedStandard,
			"s3_normalized_url": update.NormalizedURL,
			"parsing_summary":   datatypes.NewJSONType(update.Summary),
			"updated_at":        r.now(),
		}).Error
}

func (r *Repository) MarkFailed(ctx context.Context, reportID string, summary models.ParsingSummary) error {
	return r.db.WithContext(ctx).Model(&Report{}).
		Where("id = ?", reportID).
		Updates(map[string]interface{}{
			"status":          models.ReportStatusParsingFailed,
			"parsing_summary": datatypes.NewJSONType(summary),
			"updated_at":      r.now(),
		}).Error
}

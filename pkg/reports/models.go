package reports

import (
	"time"

	"github.com/qivo-mining/platform/pkg/common/models"
	"gorm.io/datatypes"
)

// Report holds the columns of the reports table this service reads and
// writes. Other columns belong to the surrounding application.
type Report struct {
	ID               string                                    `json:"id" gorm:"primaryKey;column:id"`
	TenantID         string                                    `json:"tenantId" gorm:"column:tenant_id;index"`
	Title            string                                    `json:"title,omitempty" gorm:"column:title"`
	Status           models.ReportStatus                       `json:"status" gorm:"column:status;index"`
	Standard         string                                    `json:"standard,omitempty" gorm:"column:standard"`
	DetectedStandard string                                    `json:"detectedStandard,omitempty" gorm:"column:detected_standard"`
	NormalizedURL    string                                    `json:"s3NormalizedUrl,omitempty" gorm:"column:s3_normalized_url"`
	ParsingSummary   datatypes.JSONType[models.ParsingSummary] `json:"parsingSummary" gorm:"column:parsing_summary"`
	CreatedAt        time.Time                                 `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt        time.Time                                 `json:"updatedAt" gorm:"column:updated_at"`
}

func (Report) TableName() string {
	return "reports"
}

// Summary returns the last stored parsing summary.
func (r Report) Summary() models.ParsingSummary {
	return r.ParsingSummary.Data()
}

package parsing

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	errMissingReport  = errors.New("missing report id")
	errMissingTenant  = errors.New("missing tenant id")
	errEmptyFile      = errors.New("empty file")
	errUnsupportedExt = errors.New("unsupported file type")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// UploadValidator checks an upload before it is queued.
type UploadValidator struct {
	allowed map[string]struct{}
}

func NewUploadValidator(extensions []string) *UploadValidator {
	allowed := make(map[string]struct{})
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	return &UploadValidator{allowed: allowed}
}

func DefaultUploadExtensions() []string {
	return []string{".pdf", ".docx", ".xlsx", ".csv", ".txt"}
}

func (v *UploadValidator) Validate(reportID, tenantID, fileName string, size int) error {
	if strings.TrimSpace(reportID) == "" {
		return ValidationError{reason: errMissingReport}
	}
	if strings.TrimSpace(tenantID) == "" {
		return ValidationError{reason: errMissingTenant}
	}
	if size == 0 {
		return ValidationError{reason: errEmptyFile}
	}
	if len(v.allowed) > 0 {
		ext := strings.ToLower(filepath.Ext(fileName))
		if _, ok := v.allowed[ext]; !ok {
			return ValidationError{reason: fmt.Errorf("%w: %q", errUnsupportedExt, ext)}
		}
	}
	return nil
}

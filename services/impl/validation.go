package impl

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors", len(e))
}

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// supportedExtensions is the closed set of indexable file types.
var supportedExtensions = map[string]bool{
	".pdf": true, ".txt": true, ".md": true, ".docx": true, ".doc": true,
	".html": true, ".htm": true, ".csv": true,
	".png": true, ".jpg": true, ".jpeg": true,
	".mp3": true, ".wav": true,
}

// ValidateTenantID checks the tenant identifier syntax before any store
// access.
func ValidateTenantID(tenantID string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return ValidationError{Field: "tenant_id", Message: "must match [A-Za-z0-9_-]{1,100}"}
	}
	return nil
}

// ValidateQuestion enforces the trimmed [3,1000] length bound.
func ValidateQuestion(question string) error {
	trimmed := strings.TrimSpace(question)
	if len(trimmed) < 3 {
		return ValidationError{Field: "question", Message: "must be at least 3 characters"}
	}
	if len(trimmed) > 1000 {
		return ValidationError{Field: "question", Message: "must be at most 1000 characters"}
	}
	return nil
}

// ValidateDocumentPath checks the extension against the supported set.
func ValidateDocumentPath(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return ValidationError{Field: "path", Message: fmt.Sprintf("unsupported file type %q", ext)}
	}
	return nil
}

// IsTextExtension reports whether the stricter text size limit applies.
func IsTextExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".csv", ".html", ".htm":
		return true
	}
	return false
}

// ValidateSearchLimit bounds semantic search limits to [1,50].
func ValidateSearchLimit(limit int) error {
	if limit < 1 || limit > 50 {
		return ValidationError{Field: "limit", Message: "must be in [1,50]"}
	}
	return nil
}

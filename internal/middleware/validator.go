package middleware

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/fp16-analyzer/internal/domain/analysis"
)

// Input validation and sanitization utilities

// ValidateSourceFile checks an upload before it reaches the pipeline.
// Errors wrap domain.ErrAdmission and carry the message shown to the client.
func ValidateSourceFile(name string, size int64, allowed []string, maxBytes int64) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: No file uploaded", domain.ErrAdmission)
	}

	ext := strings.ToLower(filepath.Ext(name))
	ok := false
	for _, a := range allowed {
		if strings.EqualFold(ext, a) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: Only C/C++ files are allowed!", domain.ErrAdmission)
	}

	if maxBytes > 0 && size > maxBytes {
		return FileTooLarge(maxBytes)
	}
	return nil
}

// FileTooLarge is the admission error for an upload over maxBytes.
func FileTooLarge(maxBytes int64) error {
	return fmt.Errorf("%w: File too large. Maximum size is %s.", domain.ErrAdmission, humanSize(maxBytes))
}

// AdmissionMessage strips the sentinel prefix from an admission error.
func AdmissionMessage(err error) string {
	return strings.TrimPrefix(err.Error(), domain.ErrAdmission.Error()+": ")
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dKB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// SanitizeFilename keeps only the base name of a client-supplied filename.
func SanitizeFilename(name string) string {
	name = SanitizeString(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateAnalysisID checks that id is a UUID as issued by the workspace manager.
func ValidateAnalysisID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: analysis ID cannot be empty", domain.ErrAdmission)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid analysis ID format", domain.ErrAdmission)
	}
	return nil
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits (in bytes)
const (
	MaxFrameSize   = 16 * 1024 * 1024 // 16MB - maximum provider socket frame
	MaxRequestBody = 8 * 1024 * 1024  // 8MB - maximum HTTP request body
)

// String length limits
const (
	MaxIDLength     = 128
	MaxNameLength   = 256
	MaxPathLength   = 4096
	MaxActionLength = 128
)

// SafeIDPattern allows alphanumeric, dots, colons, hyphens and underscores
var SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9.:_-]+$`)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateFileSystemID validates a provider-chosen file system id
func ValidateFileSystemID(id string) error {
	if err := ValidateString(id, "fileSystemId", 1, MaxIDLength, true); err != nil {
		return err
	}

	if !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("fileSystemId contains invalid characters (only alphanumeric, dots, colons, hyphens, and underscores allowed)")
	}

	return nil
}

// ValidateDisplayName validates a human readable mount name
func ValidateDisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("displayName is required")
	}
	return ValidateString(name, "displayName", 1, MaxNameLength, true)
}

// ValidateActionID validates a provider action id
func ValidateActionID(actionID string) error {
	return ValidateString(actionID, "actionId", 1, MaxActionLength, true)
}

// ValidateSize checks that a payload stays under max bytes
func ValidateSize(data []byte, max int) error {
	if len(data) > max {
		return fmt.Errorf("payload size %d bytes exceeds maximum %d bytes", len(data), max)
	}
	return nil
}

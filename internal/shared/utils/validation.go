package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Payload limits (in bytes)
const (
	MaxScriptSize = 1 * 1024 * 1024 // registration script
	MaxArgsSize   = 1 * 1024 * 1024 // encoded call arguments
	MaxArgsDepth  = 32              // nesting of call arguments
)

// String length limits
const (
	MaxNameLength    = 256
	MaxPoolKeyLength = 256
	MaxMethodLength  = 128
	MaxMethodCount   = 64
)

// MethodPattern matches names usable as object properties without quoting
var MethodPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

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

// ValidateMethod validates a method name
func ValidateMethod(method, fieldName string) error {
	if err := ValidateString(method, fieldName, 1, MaxMethodLength, true); err != nil {
		return err
	}
	if !MethodPattern.MatchString(method) {
		return fmt.Errorf("%s %q is not a valid identifier", fieldName, method)
	}
	return nil
}

// ValidateMethods validates a list of host method names
func ValidateMethods(methods []string) error {
	if len(methods) > MaxMethodCount {
		return fmt.Errorf("at most %d methods allowed", MaxMethodCount)
	}
	for _, m := range methods {
		if err := ValidateMethod(m, "method"); err != nil {
			return err
		}
	}
	return nil
}

// ValidateScript checks a registration script against the size limit
func ValidateScript(script string) error {
	if len(script) > MaxScriptSize {
		return fmt.Errorf("script size %d bytes exceeds maximum %d bytes", len(script), MaxScriptSize)
	}
	return nil
}

// ValidateArgs checks nesting depth and encoded size of call arguments
func ValidateArgs(args []any) error {
	if err := ValidateJSONDepth(args, MaxArgsDepth); err != nil {
		return err
	}
	data, err := sonic.Marshal(args)
	if err != nil {
		return fmt.Errorf("args are not serializable: %w", err)
	}
	if len(data) > MaxArgsSize {
		return fmt.Errorf("args size %d bytes exceeds maximum %d bytes", len(data), MaxArgsSize)
	}
	return nil
}

// ValidateJSONDepth checks if JSON nesting depth is within limits
func ValidateJSONDepth(data interface{}, maxDepth int) error {
	return checkDepth(data, 0, maxDepth)
}

func checkDepth(data interface{}, currentDepth int, maxDepth int) error {
	if currentDepth > maxDepth {
		return fmt.Errorf("JSON nesting depth %d exceeds maximum %d", currentDepth, maxDepth)
	}

	switch v := data.(type) {
	case map[string]interface{}:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	}

	return nil
}

package protocol

import "regexp"

// locatorPattern is the allow-listed scheme set, matched case-sensitively
var locatorPattern = regexp.MustCompile(`^(https?|file|asar):`)

// ValidLocator reports whether src is a source locator a context may load
func ValidLocator(src string) bool {
	return locatorPattern.MatchString(src)
}

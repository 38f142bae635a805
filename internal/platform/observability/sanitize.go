package observability

import (
	"strings"
	"unicode"
)

// truncate drops control characters and caps the value at limit runes so request data cannot forge log lines.
func truncate(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(value); len(runes) > limit {
		return string(runes[:limit])
	}
	return value
}

// SanitizeRoute bounds a route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return truncate(route, 180)
}

// SanitizeMethod bounds an HTTP method for logging.
func SanitizeMethod(method string) string {
	return truncate(method, 10)
}

// SanitizeSessionID bounds a session or quote id taken from a request path.
func SanitizeSessionID(id string) string {
	return truncate(id, 64)
}

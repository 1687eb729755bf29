package observability

import "unicode"

const defaultStringLimit = 256

// sanitizeString drops control characters and caps the rune count to keep log lines intact.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	cleaned := make([]rune, 0, min(len(value), limit))
	for _, r := range value {
		if len(cleaned) == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		cleaned = append(cleaned, r)
	}
	return string(cleaned)
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod removes control characters in HTTP methods.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeActor limits caller identifiers copied from request headers.
func SanitizeActor(actor string) string {
	return sanitizeString(actor, 64)
}

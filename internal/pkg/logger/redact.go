package logger

import (
	"regexp"
	"strings"
)

// piiKeys are field names whose whole value is an address.
var piiKeys = map[string]bool{"recipient": true, "email": true, "to": true}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// RedactEmail masks an address, keeping two characters of the local part:
// "john.doe@example.com" becomes "jo***@example.com". Local parts of two
// characters or fewer are fully masked.
func RedactEmail(email string) string {
	name, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(name) > 2 {
		return name[:2] + "***@" + domain
	}
	return "***@" + domain
}

func redactPIIValue(key, val string) string {
	if piiKeys[strings.ToLower(key)] {
		if val == "" {
			return val
		}
		return RedactEmail(val)
	}
	// Addresses can also hide inside error strings and URLs.
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}

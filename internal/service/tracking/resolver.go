package tracking

import (
	"fmt"
	"net/url"
	"strings"
)

// Resolve percent-decodes the raw value of a click's url parameter and
// checks that the result is an absolute http or https URL. The decoded
// string is returned as-is so the redirect target matches what the sender
// encoded. No network access is performed.
func Resolve(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: redirect url is required", ErrValidation)
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: redirect url is not valid percent-encoding: %v", ErrValidation, err)
	}
	if err := validateTarget(decoded); err != nil {
		return "", err
	}
	return decoded, nil
}

// validateTarget checks an already-decoded redirect target.
func validateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: redirect url %q: %v", ErrValidation, target, err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("%w: redirect url %q is not absolute", ErrValidation, target)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: redirect url scheme %q is not allowed", ErrValidation, u.Scheme)
	}
	if u.Host == "" || u.Hostname() == "" {
		return fmt.Errorf("%w: redirect url %q has no host", ErrValidation, target)
	}
	return nil
}

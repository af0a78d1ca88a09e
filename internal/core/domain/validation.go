package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var validLabelRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidateTLD checks that the provided TLD is a syntactically valid DNS label
// sequence (multi-label TLDs like co.uk are allowed, a trailing dot is not).
func ValidateTLD(tld string) error {
	if tld == "" {
		return fmt.Errorf("tld cannot be empty")
	}
	if strings.HasSuffix(tld, ".") {
		return fmt.Errorf("tld must not end with a dot")
	}
	if len(tld) > 253 {
		return fmt.Errorf("tld exceeds 253 characters")
	}
	for _, label := range strings.Split(tld, ".") {
		if label == "" {
			return fmt.Errorf("tld contains empty label")
		}
		if len(label) > 63 {
			return fmt.Errorf("label '%s' exceeds 63 characters", label)
		}
		if !validLabelRegex.MatchString(label) {
			return fmt.Errorf("label '%s' contains invalid characters or format", label)
		}
	}
	return nil
}

package domain

import (
	"regexp"
	"strings"
)

// doiPattern matches the registrant/suffix shape of a DOI (10.XXXX/...).
var doiPattern = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)

// NormalizeDOI canonicalizes a DOI for comparison: it strips URL and scheme
// prefixes (https://doi.org/, doi.org/, doi:, dx.doi.org/), trims whitespace,
// and folds case. Returns "" when the remainder is not a plausible DOI.
func NormalizeDOI(raw string) string {
	doi := strings.TrimSpace(strings.ToLower(raw))
	if doi == "" {
		return ""
	}

	for _, prefix := range []string{
		"https://doi.org/",
		"http://doi.org/",
		"https://dx.doi.org/",
		"http://dx.doi.org/",
		"doi.org/",
		"dx.doi.org/",
		"doi:",
	} {
		if strings.HasPrefix(doi, prefix) {
			doi = strings.TrimSpace(doi[len(prefix):])
			break
		}
	}

	if !doiPattern.MatchString(doi) {
		return ""
	}
	return doi
}

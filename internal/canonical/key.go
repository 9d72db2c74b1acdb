package canonical

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/scholium/corpus-service/internal/dedup"
	"github.com/scholium/corpus-service/internal/domain"
)

// clusterKey identifies one duplicate cluster within a run.
type clusterKey struct {
	Type domain.DedupKeyType
	Key  string
}

// mapKey is the typed form used as a map key so a DOI can never collide with
// a fallback hash.
func (k clusterKey) mapKey() string {
	return string(k.Type) + ":" + k.Key
}

// keyFor computes the cluster key for a raw record: the normalized DOI when
// one is present, otherwise the fallback near-duplicate key.
func keyFor(rec *domain.RawIngestRecord) clusterKey {
	if doi := domain.NormalizeDOI(rec.RawDOI); doi != "" {
		return clusterKey{Type: domain.DedupKeyDOI, Key: doi}
	}
	return clusterKey{Type: domain.DedupKeyFallback, Key: fallbackKey(rec)}
}

// fallbackKey hashes sorted title tokens, the publication year (0 when
// missing), and an author fingerprint. Two provider renderings of the same
// work converge as long as title wording, year, and author surnames agree.
func fallbackKey(rec *domain.RawIngestRecord) string {
	titlePart := dedup.CanonicalTitleKey(rec.Title)

	names := make([]string, 0, len(rec.Authors))
	for _, a := range rec.Authors {
		names = append(names, a.Name)
	}
	prefixes := make([]string, 0, len(names))
	for _, s := range dedup.Surnames(names) {
		r := []rune(s)
		if len(r) > 4 {
			r = r[:4]
		}
		prefixes = append(prefixes, string(r))
	}
	sort.Strings(prefixes)
	fingerprint := "na"
	if len(prefixes) > 0 {
		fingerprint = strings.Join(prefixes, ",")
	}

	payload := titlePart + "|" + strconv.Itoa(rec.PubYear) + "|" + fingerprint
	sum := sha1.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

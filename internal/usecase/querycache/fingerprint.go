package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

// Fingerprint hashes the normalized query with the canonical JSON of options.
// Options are round-tripped through a generic value so object keys come out
// sorted whatever the field order of the input type.
func Fingerprint(query string, options any) (string, error) {
	canonical := []byte("{}")
	if options != nil {
		raw, err := json.Marshal(options)
		if err != nil {
			return "", fmt.Errorf("fingerprint options: %w", err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return "", fmt.Errorf("fingerprint options: %w", err)
		}
		if canonical, err = json.Marshal(generic); err != nil {
			return "", fmt.Errorf("fingerprint options: %w", err)
		}
	}

	h := sha256.New()
	h.Write([]byte(domain.NormalizeText(query)))
	h.Write([]byte("|"))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

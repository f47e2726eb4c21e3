package ledger

import "github.com/sealog-io/sealog/pkg/canonical"

// CanonicalJSON renders v in the ledger's canonical form. See pkg/canonical.
func CanonicalJSON(v any) ([]byte, error) {
	return canonical.JSON(v)
}

// ContentHash returns the hex SHA-256 of a canonical serialization.
func ContentHash(c []byte) string {
	return canonical.ContentHash(c)
}

// Package keys builds cache keys for fetch gateway responses.
package keys

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Response keys a coordinate-query payload by endpoint and H3 cell.
// The endpoint is hashed so keys stay short and free of URL characters.
func Response(endpoint string, res int, cell string) string {
	ep := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	sum := xxhash.Sum64String(ep)
	return fmt.Sprintf("resp:%016x:%d:%s", sum, res, strings.ToLower(strings.TrimSpace(cell)))
}

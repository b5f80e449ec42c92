package oracle

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

// go-ora binds arguments positionally, so a placeholder number appearing
// twice leaves the second occurrence unbound (ORA-01008).
func TestBindPlaceholdersAppearOnce(t *testing.T) {
	bind := regexp.MustCompile(`:\d+`)
	queries := map[string]string{
		"columns":      columnsSQL,
		"foreign keys": fkSQL,
		"indexes":      indexesSQL,
	}

	for name, q := range queries {
		seen := map[string]int{}
		for _, m := range bind.FindAllString(q, -1) {
			seen[m]++
		}
		assert.NotEmpty(t, seen, name)
		for ph, n := range seen {
			assert.Equal(t, 1, n, "%s query reuses placeholder %s", name, ph)
		}
	}
}

package schema

import (
	"crypto/md5" // #nosec MD5 only being used to fingerprint script contents, not for encryption
	"fmt"
	"sort"
	"strings"
)

// Migration is a yet-to-be-run change to the schema. Version orders
// migrations and identifies them in the ledger. Down is optional; a
// migration without it cannot be reverted.
type Migration struct {
	Version string
	Up      Operation
	Down    Operation
}

// NewMigration builds a forward-only Migration
func NewMigration(version string, up Operation) *Migration {
	return &Migration{Version: version, Up: up}
}

// Validate checks that the migration can be applied
func (m *Migration) Validate() error {
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("%w: migration has a blank version", ErrInvalidDefinition)
	}
	if m.Up == nil {
		return fmt.Errorf("%w: migration '%s' has no Up operation", ErrInvalidDefinition, m.Version)
	}
	return nil
}

// Reversible reports whether the migration has an explicit Down operation
func (m *Migration) Reversible() bool {
	return m.Down != nil
}

// MD5 computes the MD5 hash of the canonical form of the Up operation for
// this migration so that it can be uniquely identified later.
func (m *Migration) MD5() string {
	if m.Up == nil {
		return ""
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(m.Up.String()))) // #nosec not being used cryptographically
}

// SortMigrations sorts a slice of migrations by ascending version
func SortMigrations(migrations []*Migration) {
	sort.SliceStable(migrations, func(i, j int) bool {
		return CompareVersions(migrations[i].Version, migrations[j].Version) < 0
	})
}

// CompareVersions orders two versions. When both consist only of digits
// they are compared numerically, so "9" sorts before "10". Otherwise they
// are compared lexically.
func CompareVersions(a, b string) int {
	if isDigits(a) && isDigits(b) {
		ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(ta) != len(tb) {
			if len(ta) < len(tb) {
				return -1
			}
			return 1
		}
		return strings.Compare(ta, tb)
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// validateMigrations checks every migration and rejects duplicate
// versions.
func validateMigrations(migrations []*Migration) error {
	seen := make(map[string]bool, len(migrations))
	for _, migration := range migrations {
		if migration == nil {
			return fmt.Errorf("%w: nil migration", ErrInvalidDefinition)
		}
		if err := migration.Validate(); err != nil {
			return err
		}
		if seen[migration.Version] {
			return fmt.Errorf("%w: duplicate migration version '%s'", ErrInvalidDefinition, migration.Version)
		}
		seen[migration.Version] = true
	}
	return nil
}

package dialect

import "strings"

// FromDriverName maps a bun/database driver's reported dialect name onto
// our Dialect enum, mirroring the normalisation ResolveSpec's bun adapter
// does when choosing dialect-specific SQL fragments at runtime.
func FromDriverName(name string) (Dialect, error) {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "mysql"):
		return MySQL, nil
	case strings.Contains(n, "postgres"), strings.Contains(n, "pg"):
		return Postgres, nil
	case strings.Contains(n, "sqlite"):
		return SQLite, nil
	case strings.Contains(n, "mongo"):
		return Mongo, nil
	default:
		return "", &UnsupportedError{Dialect: Dialect(name), Operation: "dialect detection"}
	}
}

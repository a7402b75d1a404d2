package metadata

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// junctionTableName derives a many-to-many junction table name by
// convention when metadata does not carry one explicitly: the source
// table name joined with the pluralised target table name, lower-snake.
// Mirrors the naming convention ResolveSpec's reflection layer applies to
// struct-derived many2many tables, generalised to runtime metadata that
// has no Go struct to inflect from.
func junctionTableName(source, target string) string {
	return strings.ToLower(source) + "_" + strings.ToLower(inflection.Plural(target))
}

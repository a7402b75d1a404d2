package mongoexec

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// buildSort turns parsed sort terms into a $sort document. Only
// single-segment paths are honoured directly by a $sort stage; a path that
// crosses into a relation is resolved by that relation's own inner pipeline
// instead (pkg/planner already splits sort terms by relation prefix via
// childSortTerms).
func buildSort(terms []queryspec.SortTerm) bson.D {
	doc := bson.D{}
	for _, t := range terms {
		if len(t.Path) != 1 {
			continue
		}
		dir := 1
		if t.Descending {
			dir = -1
		}
		doc = append(doc, bson.E{Key: t.Path[0], Value: dir})
	}
	if len(doc) == 0 {
		return nil
	}
	return doc
}

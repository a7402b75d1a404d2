package queryspec

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSort parses the "-name,createdAt" wire syntax into SortTerms. A
// leading "-" marks descending; dotted paths address fields on deep
// relations the same way field paths do.
func ParseSort(sort any) ([]SortTerm, error) {
	var raw []string
	switch v := sort.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("queryspec: sort entry %v is not a string", item)
			}
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("queryspec: unsupported sort value type %T", sort)
	}

	terms := make([]SortTerm, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		desc := false
		if strings.HasPrefix(entry, "-") {
			desc = true
			entry = entry[1:]
		}
		terms = append(terms, SortTerm{Path: strings.Split(entry, "."), Descending: desc})
	}
	return terms, nil
}

// ParseFields normalises the `fields` wire value into a string slice,
// defaulting to `["*"]` when absent (spec.md §6).
func ParseFields(fields any) ([]string, error) {
	switch v := fields.(type) {
	case nil:
		return []string{"*"}, nil
	case string:
		if v == "" {
			return []string{"*"}, nil
		}
		return strings.Split(v, ","), nil
	case []string:
		if len(v) == 0 {
			return []string{"*"}, nil
		}
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("queryspec: field entry %v is not a string", item)
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return []string{"*"}, nil
		}
		return out, nil
	default:
		return nil, fmt.Errorf("queryspec: unsupported fields value type %T", fields)
	}
}

// ParseMeta parses the `meta` csv field ("totalCount,filterCount" or "*").
func ParseMeta(meta any) (MetaRequest, error) {
	s, ok := meta.(string)
	if !ok || s == "" {
		return MetaRequest{}, nil
	}
	var m MetaRequest
	for _, tok := range strings.Split(s, ",") {
		switch strings.TrimSpace(tok) {
		case "totalCount":
			m.TotalCount = true
		case "filterCount":
			m.FilterCount = true
		case "*":
			m.All = true
			m.TotalCount = true
			m.FilterCount = true
		case "":
		default:
			return MetaRequest{}, fmt.Errorf("queryspec: unknown meta token %q", tok)
		}
	}
	return m, nil
}

var validOperators = map[string]Operator{
	string(OpEq): OpEq, string(OpNeq): OpNeq, string(OpGt): OpGt, string(OpGte): OpGte,
	string(OpLt): OpLt, string(OpLte): OpLte, string(OpIn): OpIn, string(OpNotIn): OpNotIn,
	string(OpBetween): OpBetween, string(OpContains): OpContains,
	string(OpStartsWith): OpStartsWith, string(OpEndsWith): OpEndsWith,
	string(OpIsNull): OpIsNull, string(OpIsNotNull): OpIsNotNull,
	string(OpCount): OpCount, string(OpSum): OpSum, string(OpAvg): OpAvg,
	string(OpMin): OpMin, string(OpMax): OpMax,
}

// ParseFilter builds a Filter tree from the decoded JSON value (typically
// map[string]interface{} from encoding/json). Unknown operator tokens are a
// ValidationError-class failure surfaced to the caller immediately, before
// any backend call, per spec.md §7 policy.
func ParseFilter(raw any) (*Filter, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("queryspec: filter node must be an object, got %T", raw)
	}
	return parseFilterMap(m)
}

func parseFilterMap(m map[string]any) (*Filter, error) {
	f := &Filter{Fields: map[string]FieldFilter{}}

	if and, ok := m["_and"]; ok {
		children, err := parseFilterList(and)
		if err != nil {
			return nil, err
		}
		return &Filter{Combinator: CombAnd, Children: children}, nil
	}
	if or, ok := m["_or"]; ok {
		children, err := parseFilterList(or)
		if err != nil {
			return nil, err
		}
		return &Filter{Combinator: CombOr, Children: children}, nil
	}
	if not, ok := m["_not"]; ok {
		child, err := ParseFilter(not)
		if err != nil {
			return nil, err
		}
		return &Filter{Combinator: CombNot, Child: child}, nil
	}

	for key, val := range m {
		ff, err := parseFieldFilter(val)
		if err != nil {
			return nil, fmt.Errorf("queryspec: field %q: %w", key, err)
		}
		f.Fields[key] = ff
	}
	return f, nil
}

func parseFilterList(raw any) ([]Filter, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("queryspec: combinator value must be an array, got %T", raw)
	}
	out := make([]Filter, 0, len(list))
	for _, item := range list {
		f, err := ParseFilter(item)
		if err != nil {
			return nil, err
		}
		if f != nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

func parseFieldFilter(val any) (FieldFilter, error) {
	m, ok := val.(map[string]any)
	if !ok {
		// bare scalar: implicit equality
		return FieldFilter{Scalar: val, HasScalar: true}, nil
	}

	// `{ id: { ... } }` relation FK shorthand.
	if idVal, ok := m["id"]; ok && len(m) == 1 {
		idOps, ok := idVal.(map[string]any)
		if ok {
			ops, err := parseOperatorMap(idOps)
			if err != nil {
				return FieldFilter{}, err
			}
			return FieldFilter{NestedID: ops, HasNestedID: true}, nil
		}
		return FieldFilter{NestedID: map[Operator]any{OpEq: idVal}, HasNestedID: true}, nil
	}

	// Could be an operator map, or a nested relation filter (combinators or
	// further field names) — distinguish by whether every key is a known
	// operator token.
	allOperators := len(m) > 0
	for k := range m {
		if _, ok := validOperators[k]; !ok {
			allOperators = false
			break
		}
	}
	if allOperators {
		ops, err := parseOperatorMap(m)
		if err != nil {
			return FieldFilter{}, err
		}
		return FieldFilter{Operators: ops}, nil
	}

	// Any other "_"-prefixed key that is neither an operator nor a
	// combinator is an unknown operator token, not a nested field name.
	for k := range m {
		if !strings.HasPrefix(k, "_") {
			continue
		}
		switch k {
		case "_and", "_or", "_not", "_id":
			continue
		}
		if _, ok := validOperators[k]; !ok {
			return FieldFilter{}, fmt.Errorf("queryspec: unknown operator token %q", k)
		}
	}

	// Nested relation filter (aggregate op mixed with others handled by the
	// filter walker, which rejects the ambiguous combination per spec.md's
	// Open Question resolution). Represent it losslessly by stashing the
	// raw map on Operators under a sentinel the walker recognises, plus a
	// parsed nested Filter.
	nested, err := parseFilterMap(m)
	if err != nil {
		return FieldFilter{}, err
	}
	return FieldFilter{Operators: map[Operator]any{"_nested": nested}}, nil
}

func parseOperatorMap(m map[string]any) (map[Operator]any, error) {
	out := make(map[Operator]any, len(m))
	for k, v := range m {
		op, ok := validOperators[k]
		if !ok {
			return nil, fmt.Errorf("queryspec: unknown operator token %q", k)
		}
		if op == OpBetween {
			arr, ok := v.([]any)
			if !ok || len(arr) != 2 {
				return nil, fmt.Errorf("queryspec: _between requires a two-element array")
			}
		}
		out[op] = v
	}
	return out, nil
}

// ParsePage parses the `page` wire value (>= 1); 0/absent means unset (no
// OFFSET emitted beyond what limit implies).
func ParsePage(v any) (int, error) {
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("queryspec: page: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("queryspec: page must be >= 1, got %d", n)
	}
	return n, nil
}

// ParseLimit parses the `limit` wire value (>= 0, 0 = unbounded).
func ParseLimit(v any) (int, error) {
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("queryspec: limit: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("queryspec: limit must be >= 0, got %d", n)
	}
	return n, nil
}

// ParseRequest assembles a Request for table from a decoded JSON object
// (typically an HTTP query's JSON body, or its query-string equivalent
// already folded into a map): fields, filter, sort, page, limit, meta, and
// a recursively-parsed deep map. The wire shape itself is the caller's
// concern (spec.md §6 "none of this component's concern") — this just
// centralises the per-field parsing calls above so a caller doesn't have
// to repeat them at every entrypoint.
func ParseRequest(tableName string, raw map[string]any) (Request, error) {
	req := Request{TableName: tableName}

	fields, err := ParseFields(raw["fields"])
	if err != nil {
		return Request{}, err
	}
	req.Fields = fields

	filter, err := ParseFilter(raw["filter"])
	if err != nil {
		return Request{}, err
	}
	req.Filter = filter

	sort, err := ParseSort(raw["sort"])
	if err != nil {
		return Request{}, err
	}
	req.Sort = sort

	page, err := ParsePage(raw["page"])
	if err != nil {
		return Request{}, err
	}
	req.Page = page

	limit, err := ParseLimit(raw["limit"])
	if err != nil {
		return Request{}, err
	}
	req.Limit = limit

	meta, err := ParseMeta(raw["meta"])
	if err != nil {
		return Request{}, err
	}
	req.Meta = meta

	deep, err := parseDeep(raw["deep"])
	if err != nil {
		return Request{}, err
	}
	req.Deep = deep

	return req, nil
}

func parseDeep(raw any) (map[string]*Request, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("queryspec: deep must be an object, got %T", raw)
	}

	out := make(map[string]*Request, len(m))
	for relation, opts := range m {
		if opts == nil {
			out[relation] = nil
			continue
		}
		optsMap, ok := opts.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("queryspec: deep[%q] must be an object, got %T", relation, opts)
		}
		nested, err := ParseRequest(relation, optsMap)
		if err != nil {
			return nil, fmt.Errorf("queryspec: deep[%q]: %w", relation, err)
		}
		out[relation] = &nested
	}
	return out, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		if n == "" {
			return 0, nil
		}
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

package registry

// Container keys under which list endpoints nest their payload, in priority order.
var listContainerKeys = []string{"items", "results", "content", "rezultati", "data", "subjekti"}

// Wrapper keys under which detail endpoints nest the subject record, in priority order.
var detailWrapperKeys = []string{"subjekt", "detalji_subjekta", "data", "rezultat", "result", "item"}

// ExtractList returns the records of a list response regardless of envelope
// shape. Unknown shapes yield an empty slice.
func ExtractList(doc Node) []Node {
	return extractList(doc, 2)
}

func extractList(doc Node, depth int) []Node {
	switch doc.Kind() {
	case KindArray:
		return doc.Items()
	case KindObject:
		for _, key := range listContainerKeys {
			v, ok := doc.GetFold(key)
			if !ok {
				continue
			}
			if v.IsArray() {
				return v.Items()
			}
			if v.IsObject() && depth > 0 {
				if nested := extractList(v, depth-1); len(nested) > 0 {
					return nested
				}
			}
		}
	}
	return []Node{}
}

// UnwrapDetail returns the subject record nested in a detail response, or the
// input unchanged when no wrapper key matches.
func UnwrapDetail(doc Node) Node {
	switch doc.Kind() {
	case KindObject:
		for _, key := range detailWrapperKeys {
			v, ok := doc.GetFold(key)
			if ok && v.IsObject() {
				return v
			}
		}
	case KindArray:
		for _, item := range doc.Items() {
			if item.IsObject() {
				return item
			}
		}
	}
	return doc
}

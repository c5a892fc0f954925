package registry

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
)

const classificationMarker = "nkd"

var (
	codeKeys = []string{"sifra", "code", "oznaka", "nkd", "nkd_sifra"}
	nameKeys = []string{"naziv", "name", "opis", "naziv_djelatnosti", "nkd_naziv", "puni_naziv"}

	primaryMarkers   = []string{"pretez", "primarn", "glavn"}
	secondaryMarkers = []string{"spored", "sekund"}
)

// Classification is one NKD code discovered in a document.
type Classification struct {
	Code         string              `json:"code"`
	Name         string              `json:"name"`
	RelationType domain.RelationType `json:"relation_type"`
}

// NormalizeCode strips whitespace and punctuation other than decimal points
// and turns decimal commas into points.
func NormalizeCode(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r == ',' || r == '.':
			b.WriteRune('.')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// InferRelation maps a lowercased key path onto a relation type.
func InferRelation(path string) domain.RelationType {
	p := strings.ToLower(path)
	for _, m := range primaryMarkers {
		if strings.Contains(p, m) {
			return domain.RelationPrimary
		}
	}
	for _, m := range secondaryMarkers {
		if strings.Contains(p, m) {
			return domain.RelationSecondary
		}
	}
	return domain.RelationUnknown
}

// ExtractClassifications walks an arbitrary document and returns every NKD
// code it mentions, once per code, with the highest-ranked relation type.
// The result is sorted by code.
func ExtractClassifications(doc Node) []Classification {
	found := make(map[string]Classification)
	walkClassifications(doc, "", found)

	out := make([]Classification, 0, len(found))
	for _, c := range found {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func walkClassifications(n Node, path string, found map[string]Classification) {
	switch n.Kind() {
	case KindArray:
		for _, item := range n.Items() {
			walkClassifications(item, path, found)
		}
	case KindObject:
		if c, ok := classificationAt(n, path); ok {
			record(found, c)
		}
		for _, f := range n.Fields() {
			walkClassifications(f.Value, joinPath(path, f.Key), found)
		}
	}
}

func classificationAt(n Node, path string) (Classification, bool) {
	if !strings.Contains(path, classificationMarker) && !keysContain(n, classificationMarker) {
		return Classification{}, false
	}
	rawCode, ok := firstKey(n, codeKeys)
	if !ok {
		return Classification{}, false
	}
	code := NormalizeCode(rawCode)
	if code == "" {
		return Classification{}, false
	}
	name, _ := firstKey(n, nameKeys)
	return Classification{
		Code:         code,
		Name:         name,
		RelationType: InferRelation(path),
	}, true
}

func record(found map[string]Classification, c Classification) {
	existing, ok := found[c.Code]
	if !ok {
		found[c.Code] = c
		return
	}
	if c.RelationType.Rank() > existing.RelationType.Rank() {
		if c.Name == "" {
			c.Name = existing.Name
		}
		found[c.Code] = c
		return
	}
	if existing.Name == "" && c.Name != "" {
		existing.Name = c.Name
		found[c.Code] = existing
	}
}

// firstKey returns the first non-empty scalar under any of keys, matched
// case-insensitively against the node's own keys.
func firstKey(n Node, keys []string) (string, bool) {
	for _, key := range keys {
		v, ok := n.GetFold(key)
		if !ok {
			continue
		}
		if text := v.Text(); text != "" {
			return text, true
		}
	}
	return "", false
}

func keysContain(n Node, marker string) bool {
	for _, f := range n.Fields() {
		if strings.Contains(strings.ToLower(f.Key), marker) {
			return true
		}
	}
	return false
}

func joinPath(path, key string) string {
	key = strings.ToLower(key)
	if path == "" {
		return key
	}
	return path + "." + key
}

// ClassificationEntry reads the code and label of one taxonomy list record.
func ClassificationEntry(n Node) (code, name string) {
	rec := UnwrapDetail(n)
	rawCode, _ := firstKey(rec, codeKeys)
	name, _ = firstKey(rec, nameKeys)
	return NormalizeCode(rawCode), name
}

// ClassificationLabel returns a human-readable label for a taxonomy entry,
// deriving one when the stored name is empty or merely repeats the code.
func ClassificationLabel(code, name string, raw Node) string {
	if usableLabel(code, name) {
		return strings.TrimSpace(name)
	}
	rec := UnwrapDetail(raw)
	for _, key := range nameKeys {
		if v := rec.At(key).Text(); usableLabel(code, v) {
			return v
		}
	}
	for _, key := range []string{"podrazred", "razred", "skupina", "odjeljak", "podrucje"} {
		if v := rec.At(key, "naziv").Text(); usableLabel(code, v) {
			return v
		}
	}
	return "NKD " + code
}

func usableLabel(code, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return NormalizeCode(name) != code
}

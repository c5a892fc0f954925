package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Node.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "null"
	}
}

// Field is one key/value pair of an object node. Source order is preserved.
type Field struct {
	Key   string
	Value Node
}

// Node is an immutable JSON value. The zero value is null.
type Node struct {
	kind   Kind
	scalar string
	items  []Node
	fields []Field
}

func Null() Node { return Node{} }
func String(s string) Node { return Node{kind: KindString, scalar: s} }
func Number(literal string) Node { return Node{kind: KindNumber, scalar: literal} }
func Array(items ...Node) Node { return Node{kind: KindArray, items: items} }
func Object(fields ...Field) Node {
	return Node{kind: KindObject, fields: fields}
}

func Bool(b bool) Node {
	return Node{kind: KindBool, scalar: strconv.FormatBool(b)}
}

func (n Node) Kind() Kind { return n.kind }
func (n Node) IsNull() bool { return n.kind == KindNull }
func (n Node) IsArray() bool { return n.kind == KindArray }
func (n Node) IsObject() bool { return n.kind == KindObject }
func (n Node) Items() []Node { return n.items }
func (n Node) Fields() []Field { return n.fields }

// Text returns the trimmed textual form of a scalar and "" for null, arrays and objects.
func (n Node) Text() string {
	switch n.kind {
	case KindString, KindNumber, KindBool:
		return strings.TrimSpace(n.scalar)
	default:
		return ""
	}
}

// Truthy reports whether a scalar reads as an affirmative flag.
func (n Node) Truthy() bool {
	switch strings.ToLower(n.Text()) {
	case "true", "1", "da", "yes", "d":
		return true
	default:
		return false
	}
}

// Get looks up an object key exactly.
func (n Node) Get(key string) (Node, bool) {
	if n.kind != KindObject {
		return Node{}, false
	}
	for _, f := range n.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Node{}, false
}

// GetFold looks up an object key case-insensitively.
func (n Node) GetFold(key string) (Node, bool) {
	if n.kind != KindObject {
		return Node{}, false
	}
	for _, f := range n.fields {
		if strings.EqualFold(f.Key, key) {
			return f.Value, true
		}
	}
	return Node{}, false
}

// At walks a path of object keys (case-insensitive) and array indexes.
// Missing steps yield null.
func (n Node) At(path ...string) Node {
	cur := n
	for _, step := range path {
		switch cur.kind {
		case KindObject:
			next, ok := cur.GetFold(step)
			if !ok {
				return Node{}
			}
			cur = next
		case KindArray:
			idx, err := strconv.Atoi(step)
			if err != nil || idx < 0 || idx >= len(cur.items) {
				return Node{}
			}
			cur = cur.items[idx]
		default:
			return Node{}
		}
	}
	return cur
}

// Parse decodes a JSON document into a Node, keeping object key order.
func Parse(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := decodeNode(dec)
	if err != nil {
		return Node{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Node{}, fmt.Errorf("parse json: trailing data after document")
	}
	return n, nil
}

// ParseOrNull never fails; malformed input degrades to null.
func ParseOrNull(data []byte) Node {
	if len(bytes.TrimSpace(data)) == 0 {
		return Node{}
	}
	n, err := Parse(data)
	if err != nil {
		return Node{}
	}
	return n
}

func decodeNode(dec *json.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return Node{}, fmt.Errorf("parse json: %w", err)
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			fields := make([]Field, 0)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Node{}, fmt.Errorf("parse json key: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return Node{}, fmt.Errorf("parse json: unexpected key token %v", keyTok)
				}
				value, err := decodeNode(dec)
				if err != nil {
					return Node{}, err
				}
				fields = append(fields, Field{Key: stripNUL(key), Value: value})
			}
			if _, err := dec.Token(); err != nil {
				return Node{}, fmt.Errorf("parse json object end: %w", err)
			}
			return Node{kind: KindObject, fields: fields}, nil
		case '[':
			items := make([]Node, 0)
			for dec.More() {
				item, err := decodeNode(dec)
				if err != nil {
					return Node{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Node{}, fmt.Errorf("parse json array end: %w", err)
			}
			return Node{kind: KindArray, items: items}, nil
		default:
			return Node{}, fmt.Errorf("parse json: unexpected delimiter %q", v)
		}
	case string:
		return String(stripNUL(v)), nil
	case json.Number:
		return Number(v.String()), nil
	case bool:
		return Bool(v), nil
	case nil:
		return Node{}, nil
	default:
		return Node{}, fmt.Errorf("parse json: unexpected token %T", tok)
	}
}

// stripNUL drops NUL characters, which neither text nor jsonb columns accept.
func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func (n Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

func (n Node) encode(buf *bytes.Buffer) error {
	switch n.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool, KindNumber:
		buf.WriteString(n.scalar)
	case KindString:
		raw, err := json.Marshal(n.scalar)
		if err != nil {
			return err
		}
		buf.Write(raw)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range n.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, f := range n.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

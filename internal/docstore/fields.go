package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// TimeFormat is the stored timestamp layout. It is fixed width so that
// stored timestamps order lexically.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Fields is a set of top-level field writes. Values may be sentinels.
type Fields map[string]any

type serverTimestamp struct{}

type deleteField struct{}

type arrayUnion struct {
	key   string
	elems []any
}

// ServerTimestamp resolves to the store's clock at write time.
var ServerTimestamp = serverTimestamp{}

// DeleteField removes the field from the document.
var DeleteField = deleteField{}

// ArrayUnion appends each element not already present in the array field.
// Presence is structural equality of the encoded element.
func ArrayUnion(elems ...any) any {
	return arrayUnion{elems: elems}
}

// ArrayUnionBy appends each element whose value under key is not already
// present in the array field.
func ArrayUnionBy(key string, elems ...any) any {
	return arrayUnion{key: key, elems: elems}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// mergeFields applies fields on top of base and returns the encoded document.
func mergeFields(base json.RawMessage, fields Fields, now time.Time) ([]byte, error) {
	doc := map[string]any{}
	if len(base) > 0 {
		if err := decodeInto(base, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
	}
	for key, value := range fields {
		if key == "" || key == "id" {
			return nil, fmt.Errorf("invalid field name %q", key)
		}
		switch v := value.(type) {
		case serverTimestamp:
			doc[key] = formatTime(now)
		case deleteField:
			delete(doc, key)
		case arrayUnion:
			merged, err := unionInto(doc[key], v)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			doc[key] = merged
		case time.Time:
			doc[key] = formatTime(v)
		case *time.Time:
			if v == nil {
				doc[key] = nil
			} else {
				doc[key] = formatTime(*v)
			}
		default:
			doc[key] = value
		}
	}
	return json.Marshal(doc)
}

func unionInto(current any, u arrayUnion) ([]any, error) {
	var out []any
	if existing, ok := current.([]any); ok {
		out = append(out, existing...)
	}
	for _, elem := range u.elems {
		norm, err := normalize(elem)
		if err != nil {
			return nil, err
		}
		if !containsElem(out, norm, u.key) {
			out = append(out, norm)
		}
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

func containsElem(list []any, elem any, key string) bool {
	if key == "" {
		for _, cur := range list {
			if reflect.DeepEqual(cur, elem) {
				return true
			}
		}
		return false
	}
	obj, ok := elem.(map[string]any)
	if !ok {
		return false
	}
	want, ok := obj[key]
	if !ok {
		return false
	}
	for _, cur := range list {
		if m, ok := cur.(map[string]any); ok && reflect.DeepEqual(m[key], want) {
			return true
		}
	}
	return false
}

// normalize converts v to its generic JSON form so it compares equal to
// values decoded from storage.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := decodeInto(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeInto(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

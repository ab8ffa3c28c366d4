package remote

import (
	"encoding/json"
	"math"
	"reflect"
)

// Sanitize returns a JSON-safe copy of value. Values the store cannot
// represent become nil at any depth: NaN and infinite floats, nil pointers
// and interfaces, functions, channels and complex numbers. Structs are
// flattened through their JSON encoding.
func Sanitize(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(typed, &decoded); err != nil {
			return nil
		}
		return Sanitize(decoded)
	case float64:
		return finiteOrNil(typed)
	case float32:
		return finiteOrNil(float64(typed))
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return typed
	}
	return sanitizeValue(reflect.ValueOf(value))
}

func sanitizeValue(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Invalid, reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		if _, ok := rv.Interface().(json.Marshaler); ok {
			return viaJSON(rv.Interface())
		}
		return Sanitize(rv.Elem().Interface())
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return viaJSON(rv.Interface())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Sanitize(iter.Value().Interface())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return viaJSON(rv.Interface())
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for index := 0; index < rv.Len(); index++ {
			out[index] = Sanitize(rv.Index(index).Interface())
		}
		return out
	case reflect.Float32, reflect.Float64:
		return finiteOrNil(rv.Float())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	default:
		return viaJSON(rv.Interface())
	}
}

// viaJSON round-trips value through its JSON encoding, then sanitizes the
// decoded tree. Values that fail to encode become nil.
func viaJSON(value any) any {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil
	}
	return Sanitize(decoded)
}

func finiteOrNil(value float64) any {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return value
}

// EncodeDocument sanitizes value into a JSON object without its id field.
func EncodeDocument(value any) ([]byte, error) {
	document, ok := Sanitize(value).(map[string]any)
	if !ok {
		return nil, ErrNotDocument
	}
	delete(document, "id")
	return json.Marshal(document)
}

// attachID decodes a stored document and sets its id field from the key.
func attachID(id string, stored string) (json.RawMessage, error) {
	var document map[string]any
	if err := json.Unmarshal([]byte(stored), &document); err != nil {
		return nil, err
	}
	if document == nil {
		document = map[string]any{}
	}
	document["id"] = id
	return json.Marshal(document)
}

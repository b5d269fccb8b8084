package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

var (
	anyType         = reflect.TypeOf((*any)(nil)).Elem()
	marshalerType   = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	unmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
)

// envelope wraps a value whose static type is an interface.
type envelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type field struct {
	index     int
	name      string
	omitEmpty bool
}

var fieldCache sync.Map // reflect.Type → []field

func fieldsOf(t reflect.Type) []field {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]field)
	}
	fields := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		omitEmpty := false
		if tag, ok := sf.Tag.Lookup("json"); ok {
			if tag == "-" {
				continue
			}
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitEmpty = true
				}
			}
		}
		fields = append(fields, field{index: i, name: name, omitEmpty: omitEmpty})
	}
	fieldCache.Store(t, fields)
	return fields
}

// opaque types serialize themselves.
func opaque(t reflect.Type) bool {
	return t.Implements(marshalerType) || reflect.PointerTo(t).Implements(unmarshalerType)
}

// toWire converts rv into a tree encoding/json can marshal, replacing every
// interface-typed value with an envelope.
func toWire(rv reflect.Value) (any, error) {
	t := rv.Type()
	if t.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		elem := rv.Elem()
		inner, err := toWire(elem)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(inner)
		if err != nil {
			return nil, err
		}
		return envelope{Type: TypeName(elem.Type()), Value: raw}, nil
	}
	if opaque(t) {
		return rv.Interface(), nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return toWire(rv.Elem())

	case reflect.Struct:
		out := make(map[string]any)
		for _, f := range fieldsOf(t) {
			fv := rv.Field(f.index)
			if f.omitEmpty && fv.IsZero() {
				continue
			}
			w, err := toWire(fv)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.name, err)
			}
			out[f.name] = w
		}
		return out, nil

	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			w, err := toWire(rv.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil

	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, err := mapKey(iter.Key())
			if err != nil {
				return nil, err
			}
			w, err := toWire(iter.Value())
			if err != nil {
				return nil, err
			}
			out[key] = w
		}
		return out, nil

	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, fmt.Errorf("unsupported type %s", t)
	}
	return rv.Interface(), nil
}

func mapKey(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", fmt.Errorf("unsupported map key type %s", k.Type())
}

func parseMapKey(s string, t reflect.Type) (reflect.Value, error) {
	k := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		k.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return k, err
		}
		k.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return k, err
		}
		k.SetUint(n)
	default:
		return k, fmt.Errorf("unsupported map key type %s", t)
	}
	return k, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// fromWire decodes raw into a new value of type t, resolving envelopes through types.
func fromWire(raw json.RawMessage, t reflect.Type, types *TypeRegistry) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	if isNull(raw) {
		return out, nil
	}

	if t.Kind() == reflect.Interface {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return out, err
		}
		concrete, err := types.Lookup(env.Type)
		if err != nil {
			return out, err
		}
		v, err := fromWire(env.Value, concrete, types)
		if err != nil {
			return out, err
		}
		if !concrete.AssignableTo(t) {
			return out, fmt.Errorf("type %s does not implement %s", env.Type, t)
		}
		out.Set(v)
		return out, nil
	}
	if opaque(t) {
		p := reflect.New(t)
		if err := json.Unmarshal(raw, p.Interface()); err != nil {
			return out, err
		}
		return p.Elem(), nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		v, err := fromWire(raw, t.Elem(), types)
		if err != nil {
			return out, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(v)
		return p, nil

	case reflect.Struct:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return out, err
		}
		for _, f := range fieldsOf(t) {
			fraw, ok := obj[f.name]
			if !ok {
				continue
			}
			v, err := fromWire(fraw, t.Field(f.index).Type, types)
			if err != nil {
				return out, fmt.Errorf("field %s: %w", f.name, err)
			}
			out.Field(f.index).Set(v)
		}
		return out, nil

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			p := reflect.New(t)
			err := json.Unmarshal(raw, p.Interface())
			return p.Elem(), err
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return out, err
		}
		out = reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			v, err := fromWire(item, t.Elem(), types)
			if err != nil {
				return out, err
			}
			out.Index(i).Set(v)
		}
		return out, nil

	case reflect.Array:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return out, err
		}
		for i := 0; i < len(items) && i < t.Len(); i++ {
			v, err := fromWire(items[i], t.Elem(), types)
			if err != nil {
				return out, err
			}
			out.Index(i).Set(v)
		}
		return out, nil

	case reflect.Map:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return out, err
		}
		out = reflect.MakeMapWithSize(t, len(obj))
		for ks, vraw := range obj {
			k, err := parseMapKey(ks, t.Key())
			if err != nil {
				return out, err
			}
			v, err := fromWire(vraw, t.Elem(), types)
			if err != nil {
				return out, err
			}
			out.SetMapIndex(k, v)
		}
		return out, nil
	}

	p := reflect.New(t)
	if err := json.Unmarshal(raw, p.Interface()); err != nil {
		return out, err
	}
	return p.Elem(), nil
}

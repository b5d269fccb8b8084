package codec

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"peer-rpc/message"
)

// UnknownTypeError is returned when a type name received from the wire has no
// registered Go type.
type UnknownTypeError struct {
	Name string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("codec: the type '%s' could not be found", e.Name)
}

// TypeRegistry maps type names to Go types.
//
// Predeclared types and the message types are always known. Named types have to be
// registered before a peer can receive them; slices, pointers, arrays and maps of known
// types are resolved on demand. Generic instantiations must be registered one by one.
type TypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
}

// DefaultTypes is used by codecs created without an explicit registry.
var DefaultTypes = NewTypeRegistry()

var builtinTypes = []any{
	false, "", int(0), int8(0), int16(0), int32(0), int64(0),
	uint(0), uint8(0), uint16(0), uint32(0), uint64(0), uintptr(0),
	float32(0), float64(0), time.Time{}, time.Duration(0),
	message.Call{}, message.Return{}, message.ConnectRequest{}, message.ConnectResponse{}, message.Close{},
}

func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{byName: make(map[string]reflect.Type)}
	r.byName["any"] = anyType
	for _, v := range builtinTypes {
		r.RegisterType(reflect.TypeOf(v))
	}
	return r
}

// Register records the dynamic types of values.
func (r *TypeRegistry) Register(values ...any) {
	for _, v := range values {
		if v == nil {
			continue
		}
		r.RegisterType(reflect.TypeOf(v))
	}
}

// RegisterType records t under TypeName(t). Pointer types register their element too.
func (r *TypeRegistry) RegisterType(t reflect.Type) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.Lock()
	r.byName[TypeName(t)] = t
	r.mu.Unlock()
}

// Lookup resolves a name produced by TypeName.
func (r *TypeRegistry) Lookup(name string) (reflect.Type, error) {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := r.composite(name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.byName[name] = t
	r.mu.Unlock()
	return t, nil
}

func (r *TypeRegistry) composite(name string) (reflect.Type, error) {
	switch {
	case strings.HasPrefix(name, "*"):
		elem, err := r.Lookup(name[1:])
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(elem), nil

	case strings.HasPrefix(name, "[]"):
		elem, err := r.Lookup(name[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil

	case strings.HasPrefix(name, "map["):
		end := closingBracket(name, 3)
		if end < 0 {
			return nil, &UnknownTypeError{Name: name}
		}
		key, err := r.Lookup(name[4:end])
		if err != nil {
			return nil, err
		}
		elem, err := r.Lookup(name[end+1:])
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(key, elem), nil

	case strings.HasPrefix(name, "["):
		end := strings.IndexByte(name, ']')
		if end < 0 {
			return nil, &UnknownTypeError{Name: name}
		}
		n, err := strconv.Atoi(name[1:end])
		if err != nil {
			return nil, &UnknownTypeError{Name: name}
		}
		elem, err := r.Lookup(name[end+1:])
		if err != nil {
			return nil, err
		}
		return reflect.ArrayOf(n, elem), nil
	}
	return nil, &UnknownTypeError{Name: name}
}

// closingBracket returns the index of the ']' matching the '[' at open.
func closingBracket(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// TypeName returns the wire name of t: the predeclared name for builtin types,
// "pkgpath.Name" for named types and a Go-like spelling for composites.
func TypeName(t reflect.Type) string {
	if t.Name() != "" {
		if t.PkgPath() == "" {
			return t.Name()
		}
		return t.PkgPath() + "." + t.Name()
	}
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + TypeName(t.Elem())
	case reflect.Slice:
		return "[]" + TypeName(t.Elem())
	case reflect.Array:
		return "[" + strconv.Itoa(t.Len()) + "]" + TypeName(t.Elem())
	case reflect.Map:
		return "map[" + TypeName(t.Key()) + "]" + TypeName(t.Elem())
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return "any"
		}
	}
	return t.String()
}

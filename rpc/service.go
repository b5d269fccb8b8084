package rpc

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
	contextType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	connectionType = reflect.TypeOf((*Connection)(nil))
)

// Methods registers remotely callable functions by name, as an alternative to exposing
// the methods of a call target. Values must be funcs.
type Methods map[string]any

type methodType struct {
	name     string
	index    int           // method index on the receiver type, -1 for Methods entries
	fn       reflect.Value // set for Methods entries
	ctxArg   bool          // first parameter is context.Context
	params   []reflect.Type
	valueOut bool
	errOut   bool
}

// service is the method table of one call target.
type service struct {
	rcvr    reflect.Value
	methods map[string]*methodType
}

var serviceCache sync.Map // reflect.Type → map[string]*methodType

// newService builds the method table of target. It returns nil for a nil target.
// Tables of ordinary targets are computed once per type.
func newService(target any) (*service, error) {
	if target == nil {
		return nil, nil
	}
	if m, ok := target.(Methods); ok {
		return newMethodsService(m)
	}

	typ := reflect.TypeOf(target)
	if cached, ok := serviceCache.Load(typ); ok {
		return &service{rcvr: reflect.ValueOf(target), methods: cached.(map[string]*methodType)}, nil
	}

	skip := hookMethods(target)
	methods := make(map[string]*methodType)
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if skip[method.Name] {
			continue
		}
		// In(0) is the receiver
		mt, ok := shapeOf(method.Name, method.Type, 1)
		if !ok {
			continue
		}
		mt.index = i
		methods[method.Name] = mt
	}
	serviceCache.Store(typ, methods)
	return &service{rcvr: reflect.ValueOf(target), methods: methods}, nil
}

func newMethodsService(m Methods) (*service, error) {
	methods := make(map[string]*methodType, len(m))
	for name, f := range m {
		fv := reflect.ValueOf(f)
		if fv.Kind() != reflect.Func || fv.IsNil() {
			return nil, fmt.Errorf("rpc: method %q is %T, not a func", name, f)
		}
		mt, ok := shapeOf(name, fv.Type(), 0)
		if !ok {
			return nil, fmt.Errorf("rpc: method %q has unsupported signature %s", name, fv.Type())
		}
		mt.index = -1
		mt.fn = fv
		methods[name] = mt
	}
	return &service{methods: methods}, nil
}

// hookMethods lists the lifecycle callbacks a target implements; they are not
// callable remotely.
func hookMethods(target any) map[string]bool {
	skip := make(map[string]bool)
	if _, ok := target.(ConnectedHandler); ok {
		skip["OnConnected"] = true
	}
	if _, ok := target.(DisconnectedHandler); ok {
		skip["OnDisconnected"] = true
	}
	if _, ok := target.(ConnectionAttemptFailedHandler); ok {
		skip["OnConnectionAttemptFailed"] = true
	}
	return skip
}

// shapeOf checks that ft can be dispatched to: optional leading context.Context,
// no variadic parameters, and one of the result shapes (), (error), (T), (T, error).
func shapeOf(name string, ft reflect.Type, skip int) (*methodType, bool) {
	if ft.IsVariadic() {
		return nil, false
	}

	mt := &methodType{name: name}
	for i := skip; i < ft.NumIn(); i++ {
		in := ft.In(i)
		if i == skip && in == contextType {
			mt.ctxArg = true
			continue
		}
		mt.params = append(mt.params, in)
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			mt.errOut = true
		} else {
			mt.valueOut = true
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, false
		}
		mt.valueOut, mt.errOut = true, true
	default:
		return nil, false
	}
	return mt, true
}

// optional parameters accept a missing or nil argument.
func optional(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	}
	return false
}

func (m *methodType) String() string {
	var b strings.Builder
	b.WriteString(m.name)
	b.WriteByte('(')
	if m.ctxArg {
		b.WriteString("context.Context")
		if len(m.params) > 0 {
			b.WriteString(", ")
		}
	}
	for i, p := range m.params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	return b.String()
}

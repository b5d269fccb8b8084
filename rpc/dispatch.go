package rpc

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"peer-rpc/message"
)

// Dispatch executes call against target on behalf of caller and reports every outcome,
// including failures, as a Return. A nil target rejects all calls.
func Dispatch(ctx context.Context, target any, call *message.Call, caller *Connection) *message.Return {
	svc, err := newService(target)
	if err != nil {
		return message.Faulted(err.Error())
	}
	return svc.dispatch(ctx, call, caller)
}

func (s *service) dispatch(ctx context.Context, call *message.Call, caller *Connection) (ret *message.Return) {
	defer func() {
		if r := recover(); r != nil {
			ret = message.Faulted("Unknown error")
		}
	}()

	if s == nil {
		return message.Faulted("No remote procedure calls are allowed on this connection")
	}
	if call.Method == "" {
		return message.Faulted("No method name specified")
	}

	m, ok := s.methods[call.Method]
	if !ok {
		return message.Faulted(fmt.Sprintf("No method with name '%s' could be found (attempted call: %s)",
			call.Method, describeCall(call)))
	}

	in, fault := m.bind(call, caller)
	if fault != "" {
		return message.Faulted(fault)
	}

	ctx = withCallContext(ctx, &CallContext{Method: call.Method, Args: call.Args, Connection: caller})
	return s.invoke(ctx, m, in)
}

// bind matches the positional arguments of call against the parameters of m.
// Parameters of type *Connection receive the caller instead.
func (m *methodType) bind(call *message.Call, caller *Connection) ([]reflect.Value, string) {
	if len(call.Args) > len(m.params) {
		return nil, fmt.Sprintf("Parameter mismatch: Too many arguments specified (attempted call: %s, local method: %s)",
			describeCall(call), m)
	}

	in := make([]reflect.Value, 0, len(m.params)+1)
	for i, pt := range m.params {
		var actual any
		if i < len(call.Args) {
			actual = call.Args[i]
		}

		switch {
		case pt == connectionType:
			in = append(in, reflect.ValueOf(caller))

		case actual == nil:
			if !optional(pt) {
				return nil, fmt.Sprintf("Parameter mismatch: Not enough parameters specified (attempted call: %s, local method: %s)",
					describeCall(call), m)
			}
			in = append(in, reflect.Zero(pt))

		default:
			at := reflect.TypeOf(actual)
			if !at.AssignableTo(pt) {
				return nil, fmt.Sprintf("Parameter mismatch: Got value of type '%s' for parameter '%s #%d' (attempted call: %s, local method: %s)",
					at, pt, i, describeCall(call), m)
			}
			in = append(in, reflect.ValueOf(actual))
		}
	}
	return in, ""
}

func (s *service) invoke(ctx context.Context, m *methodType, in []reflect.Value) (ret *message.Return) {
	defer func() {
		if r := recover(); r != nil {
			ret = message.Faulted(fmt.Sprintf("Local execution failed (exception: panic: %v)", r))
		}
	}()

	fn := m.fn
	if !fn.IsValid() {
		fn = s.rcvr.Method(m.index)
	}
	if m.ctxArg {
		in = append([]reflect.Value{reflect.ValueOf(&ctx).Elem()}, in...)
	}

	out := fn.Call(in)
	if m.errOut {
		if errv := out[len(out)-1]; !errv.IsNil() {
			return message.Faulted(fmt.Sprintf("Local execution failed (exception: %v)", errv.Interface()))
		}
	}
	if m.valueOut {
		return message.Success(out[0].Interface())
	}
	return message.Success(nil)
}

func describeCall(call *message.Call) string {
	args := make([]string, len(call.Args))
	for i, a := range call.Args {
		args[i] = fmt.Sprintf("%v", a)
	}
	return call.Method + "(" + strings.Join(args, ", ") + ")"
}

package codec

import (
	"errors"
	"reflect"
	"testing"

	"peer-rpc/message"
)

type Point struct {
	X, Y int
}

type Customer struct {
	Name string
	Age  int
	Tags map[string]any `json:"tags,omitempty"`
}

func testTypes() *TypeRegistry {
	types := NewTypeRegistry()
	types.Register(Point{}, Customer{})
	return types
}

func roundTrip(t *testing.T, c Codec, v any) any {
	t.Helper()
	data, err := c.Encode(v)
	if err != nil {
		t.Fatalf("%T Encode failed: %v", c, err)
	}
	decoded, err := c.Decode(data)
	if err != nil {
		t.Fatalf("%T Decode failed: %v", c, err)
	}
	return decoded
}

func codecs() []Codec {
	types := testTypes()
	return []Codec{GetCodec(CodecTypeJSON, types), GetCodec(CodecTypeBinary, types)}
}

func TestCallRoundTrip(t *testing.T) {
	for _, c := range codecs() {
		call := &message.Call{
			Method: "FindCustomer",
			Args:   []any{Point{X: 1, Y: 2}, &Customer{Name: "Ann", Age: 30}, 7, "x", nil, []any{true, 1.5}},
		}

		decoded, ok := roundTrip(t, c, call).(*message.Call)
		if !ok {
			t.Fatalf("%T: expect *message.Call", c)
		}
		if decoded.Method != call.Method {
			t.Errorf("Method mismatch: got %s, want %s", decoded.Method, call.Method)
		}
		if !reflect.DeepEqual(decoded.Args, call.Args) {
			t.Errorf("%T: Args mismatch: got %#v, want %#v", c, decoded.Args, call.Args)
		}
	}
}

func TestReturnRoundTrip(t *testing.T) {
	for _, c := range codecs() {
		ret := message.Success(Customer{Name: "Bob", Age: 41, Tags: map[string]any{"vip": true}})

		decoded, ok := roundTrip(t, c, ret).(*message.Return)
		if !ok {
			t.Fatalf("%T: expect *message.Return", c)
		}
		if !decoded.IsSuccessful || decoded.Error != "" {
			t.Fatalf("unexpected return: %+v", decoded)
		}
		if !reflect.DeepEqual(decoded.Value, ret.Value) {
			t.Errorf("%T: Value mismatch: got %#v, want %#v", c, decoded.Value, ret.Value)
		}
	}
}

func TestFaultedRoundTrip(t *testing.T) {
	for _, c := range codecs() {
		decoded := roundTrip(t, c, message.Faulted("No method name specified")).(*message.Return)
		if decoded.IsSuccessful || decoded.Value != nil || decoded.Error != "No method name specified" {
			t.Fatalf("%T: unexpected return: %+v", c, decoded)
		}
	}
}

func TestNilRoundTrip(t *testing.T) {
	for _, c := range codecs() {
		if v := roundTrip(t, c, nil); v != nil {
			t.Fatalf("%T: expect nil, got %#v", c, v)
		}
	}
}

func TestCompositeTypes(t *testing.T) {
	for _, c := range codecs() {
		values := []any{
			[]Point{{1, 2}, {3, 4}},
			map[int]string{1: "a", 2: "b"},
			[2]int{5, 6},
			[]byte("raw"),
		}
		for _, v := range values {
			got := roundTrip(t, c, v)
			if !reflect.DeepEqual(got, v) {
				t.Errorf("%T: got %#v, want %#v", c, got, v)
			}
		}
	}
}

func TestUnknownType(t *testing.T) {
	type unregistered struct{ A int }

	data, err := (&JSONCodec{}).Encode(unregistered{A: 1})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, err = (&JSONCodec{Types: NewTypeRegistry()}).Decode(data)
	var unknown *UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expect UnknownTypeError, got %v", err)
	}
	if unknown.Name != "peer-rpc/codec.unregistered" {
		t.Fatalf("unexpected type name %q", unknown.Name)
	}
}

func TestTypeName(t *testing.T) {
	cases := map[string]any{
		"int":                             0,
		"string":                          "",
		"peer-rpc/codec.Point":            Point{},
		"*peer-rpc/codec.Point":           &Point{},
		"[]peer-rpc/codec.Point":          []Point{},
		"map[string]any":                  map[string]any{},
		"[3]uint8":                        [3]byte{},
		"*peer-rpc/message.Call":          &message.Call{},
		"map[int][]*peer-rpc/codec.Point": map[int][]*Point{},
	}
	types := testTypes()
	for want, v := range cases {
		typ := reflect.TypeOf(v)
		if got := TypeName(typ); got != want {
			t.Errorf("TypeName(%s) = %s, want %s", typ, got, want)
		}
		resolved, err := types.Lookup(want)
		if err != nil {
			t.Errorf("Lookup(%s) failed: %v", want, err)
			continue
		}
		if resolved != typ {
			t.Errorf("Lookup(%s) = %s, want %s", want, resolved, typ)
		}
	}
}

func TestBinaryCodecShortBuffer(t *testing.T) {
	if _, err := (&BinaryCodec{}).Decode([]byte{0, 9, 'a'}); err == nil {
		t.Fatal("expect error for truncated data")
	}
}

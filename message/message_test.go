package message

import (
	"encoding/json"
	"testing"
)

func TestSuccessAndFaulted(t *testing.T) {
	ok := Success(42)
	if !ok.IsSuccessful || ok.Error != "" || ok.Value != 42 {
		t.Fatalf("unexpected success return: %+v", ok)
	}

	bad := Faulted("boom")
	if bad.IsSuccessful || bad.Value != nil || bad.Error != "boom" {
		t.Fatalf("unexpected faulted return: %+v", bad)
	}
}

func TestSuccessWithoutValue(t *testing.T) {
	ret := Success(nil)
	if !ret.IsSuccessful || ret.Value != nil {
		t.Fatalf("expect successful empty return, got %+v", ret)
	}
}

// the local transport status never goes on the wire
func TestTransportNotSerialized(t *testing.T) {
	ret := &Return{Error: "timeout", Transport: "ResponseTimeout"}
	data, err := json.Marshal(ret)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := decoded["Transport"]; ok {
		t.Fatalf("transport status leaked on the wire: %s", data)
	}
	if decoded["error"] != "timeout" {
		t.Fatalf("expect error field, got %s", data)
	}
}

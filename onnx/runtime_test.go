package onnx

import "testing"

func TestResolveLibPathOverride(t *testing.T) {
	want := "/opt/custom/libonnxruntime.so"
	if got := resolveLibPath(want); got != want {
		t.Errorf("resolveLibPath = %q, want override %q", got, want)
	}
}

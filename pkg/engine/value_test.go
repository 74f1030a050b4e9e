package engine

import (
	"encoding/json"
	"testing"
)

func TestEqualScalars(t *testing.T) {
	cases := []struct {
		a, b any
		want bool
	}{
		{"cup", "cup", true},
		{"cup", "mug", false},
		{true, true, true},
		{true, false, false},
		{nil, nil, true},
		{nil, false, false},
		{nil, "", false},
		{3, float64(3), true}, // YAML int vs JSON float
		{int64(2), 2.0, true},
		{2, 2.5, false},
		{"3", 3, false}, // no string/number coercion
	}
	for _, tc := range cases {
		if got := Equal(tc.a, tc.b); got != tc.want {
			t.Errorf("Equal(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestEqualNotFound(t *testing.T) {
	if !Equal(NotFound{}, NotFound{}) {
		t.Error("NotFound equals NotFound")
	}
	if Equal(NotFound{}, nil) {
		t.Error("NotFound must not equal nil")
	}
	if Equal(nil, NotFound{}) {
		t.Error("nil must not equal NotFound")
	}
	if Equal(NotFound{}, false) {
		t.Error("NotFound must not equal a concrete value")
	}
}

func TestEqualComposite(t *testing.T) {
	a := map[string]any{"label": "cup", "bbox": []any{1, 2, 3}}
	b := map[string]any{"label": "cup", "bbox": []any{1.0, 2.0, 3.0}}
	if !Equal(a, b) {
		t.Error("maps with numerically equal leaves compare equal")
	}

	if Equal([]any{1, 2}, []any{2, 1}) {
		t.Error("list order is significant")
	}
	if Equal(map[string]any{"a": 1}, map[string]any{"a": 1, "b": 2}) {
		t.Error("extra keys break equality")
	}
}

func TestNotFoundMarshalsAsNull(t *testing.T) {
	out, err := json.Marshal(map[string]any{"pos": NotFound{}})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"pos":null}` {
		t.Errorf("got %s", out)
	}
}

package canonicaljson

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMarshal_SortsKeysRecursively(t *testing.T) {
	v := map[string]any{
		"z": 1,
		"a": map[string]any{"c": 2, "b": 3},
	}
	got, err := Marshal(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"a":{"b":3,"c":2},"z":1}`
	if string(got) != want {
		t.Errorf("Marshal() = %s, want %s", got, want)
	}
}

func TestMarshal_PreservesArrayOrder(t *testing.T) {
	v := map[string]any{"rules": []any{"b", "a", "c"}}
	got, err := Marshal(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"rules":["b","a","c"]}`
	if string(got) != want {
		t.Errorf("Marshal() = %s, want %s", got, want)
	}
}

func TestMarshal_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, `null`},
		{"true", true, `true`},
		{"false", false, `false`},
		{"int", 42, `42`},
		{"negative int64", int64(-7), `-7`},
		{"integral float", float64(3000), `3000`},
		{"fractional float", 2.5, `2.5`},
		{"number integer", json.Number("100"), `100`},
		{"number fraction", json.Number("0.25"), `0.25`},
		{"string", "amount", `"amount"`},
		{"escaped quote", `say "hi"`, `"say \"hi\""`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline", "a\nb", `"a\nb"`},
		{"control char", "a\x01b", `"a\u0001b"`},
		{"utf8 passthrough", "café", `"café"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestMarshal_RejectsUnsupported(t *testing.T) {
	if _, err := Marshal(struct{}{}); err == nil {
		t.Error("expected error for struct input")
	}
	if _, err := Marshal(map[int]any{1: "x"}); err == nil {
		t.Error("expected error for non-string keys")
	}
}

func TestNormalize_ReordersStoredJSON(t *testing.T) {
	raw := []byte(`{"field": "amount", "op": "GT", "value": 3000}`)
	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"field":"amount","op":"GT","value":3000}`
	if string(got) != want {
		t.Errorf("Normalize() = %s, want %s", got, want)
	}
}

func TestNormalize_RejectsInvalidJSON(t *testing.T) {
	if _, err := Normalize([]byte(`{"a":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// asAny retypes a generator's results as `any`. gopter's Gen.Map cannot
// widen to the empty interface (a mapper returning `any` is mistaken for a
// *GenResult mapper), so the ResultType is overridden directly.
func asAny(g gopter.Gen) gopter.Gen {
	return func(params *gopter.GenParameters) *gopter.GenResult {
		result := g(params)
		result.ResultType = anyType
		// Like Gen.Map to a different type: drop the typed sieve and
		// shrinker, which would otherwise be called with mismatched types.
		result.Sieve = nil
		result.Shrinker = gopter.NoShrinker
		return result
	}
}

// genValue produces arbitrary JSON value trees up to the given depth.
func genValue(depth int) gopter.Gen {
	scalars := gen.OneGenOf(
		asAny(gen.AlphaString()),
		asAny(gen.Int64()),
		asAny(gen.Bool()),
		asAny(gen.Const(any(nil))),
	)
	if depth <= 0 {
		return scalars
	}
	return gen.OneGenOf(
		scalars,
		asAny(gen.MapOf(gen.AlphaString(), genValue(depth-1))),
		asAny(gen.SliceOf(genValue(depth-1))),
	)
}

func TestMarshal_DeterministicProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200

	properties := gopter.NewProperties(params)

	properties.Property("two invocations are byte-identical", prop.ForAll(
		func(v any) bool {
			a, err1 := Marshal(v)
			b, err2 := Marshal(v)
			if err1 != nil || err2 != nil {
				return false
			}
			return string(a) == string(b)
		},
		genValue(3),
	))

	properties.Property("output round-trips through encoding/json", prop.ForAll(
		func(v any) bool {
			b, err := Marshal(v)
			if err != nil {
				return false
			}
			var decoded any
			return json.Unmarshal(b, &decoded) == nil
		},
		genValue(3),
	))

	properties.Property("normalizing canonical output is a fixed point", prop.ForAll(
		func(v any) bool {
			b, err := Marshal(v)
			if err != nil {
				return false
			}
			again, err := Normalize(b)
			if err != nil {
				return false
			}
			return string(b) == string(again)
		},
		genValue(3),
	))

	properties.TestingRun(t)
}

func TestMarshal_KeyOrderIsStrictlyAscending(t *testing.T) {
	v := map[string]any{
		"b": 1, "a": 2, "ab": 3, "A": 4, "Z": 5, "0": 6, "é": 7,
	}
	got, err := Marshal(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// UTF-8 code unit order: digits < uppercase < lowercase < multi-byte.
	want := `{"0":6,"A":4,"Z":5,"a":2,"ab":3,"b":1,"é":7}`
	if string(got) != want {
		t.Errorf("Marshal() = %s, want %s", got, want)
	}
}

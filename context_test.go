package options

import "testing"

func TestIdentityValuesUseDeclaredFields(t *testing.T) {
	ectx := NewEvaluationContext()
	ectx.Set("org", ContextString("acme"))
	ectx.Set("user", ContextInt(7))
	ectx.Set("noise", ContextString("ignored"))
	ectx.SetIdentityFields("user", "org")

	got := ectx.identityValues()
	// Fields are kept sorted, so org precedes user.
	if len(got) != 2 || got[0] != "acme" || got[1] != "7" {
		t.Fatalf("unexpected identity values: %v", got)
	}
}

func TestIdentityValuesFallBackToAllProperties(t *testing.T) {
	ectx := NewEvaluationContext()
	ectx.Set("b", ContextString("two"))
	ectx.Set("a", ContextString("one"))

	got := ectx.identityValues()
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("expected sorted-key fallback, got %v", got)
	}
}

func TestIdentityValuesSkipMissingFields(t *testing.T) {
	ectx := NewEvaluationContext()
	ectx.Set("org", ContextString("acme"))
	ectx.SetIdentityFields("org", "absent")

	got := ectx.identityValues()
	if len(got) != 1 || got[0] != "acme" {
		t.Fatalf("missing identity fields must be skipped, got %v", got)
	}
}

func TestContextValueHashText(t *testing.T) {
	cases := []struct {
		v    ContextValue
		want string
	}{
		{ContextString("x"), "x"},
		{ContextInt(-3), "-3"},
		{ContextBool(true), "true"},
		{ContextFloat(1.5), "1.5"},
		{ContextStringList("a", "b"), "a,b"},
		{ContextIntList(1, 2), "1,2"},
		{ContextBoolList(true, false), "true,false"},
	}
	for _, tc := range cases {
		if got := tc.v.hashText(); got != tc.want {
			t.Fatalf("hashText: expected %q, got %q", tc.want, got)
		}
	}
}

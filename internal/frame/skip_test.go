package frame

import "testing"

func TestSkipJSONValueComplete(t *testing.T) {
	cases := []string{
		`{}`,
		`{"a":1}`,
		`[1,2,3]`,
		`"a string with \" escaped quote"`,
		`true`,
		`false`,
		`null`,
		`-3.14e10`,
		`{"nested":{"a":[1,2,{"b":"}"}]}}`,
	}
	for _, c := range cases {
		n, complete := SkipJSONValue([]byte(c))
		if !complete {
			t.Fatalf("SkipJSONValue(%q) not complete", c)
		}
		if n != len(c) {
			t.Fatalf("SkipJSONValue(%q) = %d, want %d", c, n, len(c))
		}
	}
}

func TestSkipJSONValueTruncated(t *testing.T) {
	cases := []string{
		``,
		`{"a":1`,
		`[1,2,`,
		`"unterminated`,
		`tru`,
		`{"a":"b}`,
	}
	for _, c := range cases {
		_, complete := SkipJSONValue([]byte(c))
		if complete {
			t.Fatalf("SkipJSONValue(%q) should be incomplete", c)
		}
	}
}

func TestSkipJSONValueAdditivity(t *testing.T) {
	pairs := [][2]string{
		{`{"command":"authorize","cookie":1}`, `{"command":"ping"}`},
		{`[1,2,3]`, `"tail string"`},
		{`42`, `{"a":{"b":1}}`},
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		concat := a + b
		n, complete := SkipJSONValue([]byte(concat))
		if !complete {
			t.Fatalf("SkipJSONValue(%q) not complete", concat)
		}
		if n != len(a) {
			t.Fatalf("SkipJSONValue(%q) = %d, want len(a)=%d", concat, n, len(a))
		}
		// Skipping the remainder should consume exactly b.
		n2, complete2 := SkipJSONValue([]byte(concat[n:]))
		if !complete2 || n2 != len(b) {
			t.Fatalf("second skip = (%d,%v), want (%d,true)", n2, complete2, len(b))
		}
		if n+n2 != len(a)+len(b) {
			t.Fatalf("additivity violated: %d+%d != %d+%d", n, n2, len(a), len(b))
		}
	}
}

func TestSkipJSONValueWhitespacePrefix(t *testing.T) {
	n, complete := SkipJSONValue([]byte("  \n\t{\"a\":1}"))
	if !complete || n != len("  \n\t{\"a\":1}") {
		t.Fatalf("got (%d,%v)", n, complete)
	}
}

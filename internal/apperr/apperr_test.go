package apperr

import "testing"

func TestConvenienceConstructors_SetExpectedCode(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want Code
	}{
		{"BadRequest", BadRequest("missing field %s", "text"), CodeBadRequest},
		{"Unavailable", Unavailable("breaker open for %s", "llm"), CodeUnavailable},
		{"Internal", Internal("invariant violated"), CodeInternal},
		{"Timeout", Timeout("deadline exceeded after %dms", 25000), CodeTimeout},
	}
	for _, tc := range cases {
		if tc.err.Code != tc.want {
			t.Errorf("%s: Code = %v, want %v", tc.name, tc.err.Code, tc.want)
		}
	}
}

func TestWithRetryAfter_SetsPointer(t *testing.T) {
	e := Unavailable("breaker open").WithRetryAfter(5000)
	if e.RetryAfterMs == nil || *e.RetryAfterMs != 5000 {
		t.Errorf("RetryAfterMs = %v, want 5000", e.RetryAfterMs)
	}
}

func TestIsEmpty(t *testing.T) {
	var nilErr *Error
	if !nilErr.IsEmpty() {
		t.Error("expected a nil *Error to be empty")
	}
	if (&Error{}).IsEmpty() == false {
		t.Error("expected a zero-value Error (no code) to be empty")
	}
	if BadRequest("x").IsEmpty() {
		t.Error("expected a constructed Error to not be empty")
	}
}

func TestError_FormatsCodeAndMessage(t *testing.T) {
	e := New(CodeInternal, "something broke")
	if got, want := e.Error(), "internal: something broke"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestError_NilReceiverReturnsEmptyString(t *testing.T) {
	var e *Error
	if e.Error() != "" {
		t.Errorf("Error() on a nil *Error = %q, want empty string", e.Error())
	}
}

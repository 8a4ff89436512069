package sandbox

import (
	"slices"
	"testing"
)

func TestRegister_Lookup(t *testing.T) {
	w, ok := Lookup("test-nice")
	if !ok {
		t.Fatal("Lookup(test-nice) not found")
	}
	if w != workNice {
		t.Errorf("Lookup returned %v, want %v", w, workNice)
	}
	if _, ok := Lookup("does-not-exist"); ok {
		t.Error("Lookup(does-not-exist) should fail")
	}
}

func TestRegister_Panics(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"duplicate", func() { Register("test-nice", func() {}) }},
		{"empty name", func() { Register("", func() {}) }},
		{"nil func", func() { Register("test-nil-func", nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}

func TestWorks_Sorted(t *testing.T) {
	names := Works()
	if !slices.IsSorted(names) {
		t.Errorf("Works() = %v, want sorted", names)
	}
	if !slices.Contains(names, "test-exit-7") {
		t.Errorf("Works() = %v, missing test-exit-7", names)
	}
}

func TestWork_Zero(t *testing.T) {
	var w Work
	if w.Name() != "" {
		t.Errorf("zero Work name = %q, want empty", w.Name())
	}
}

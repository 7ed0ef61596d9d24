package task

import (
	"errors"
	"io"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{name: "ok", task: Task{ID: "ABC", Priority: 2}},
		{name: "negative priority ok", task: Task{ID: "x", Priority: -5}},
		{name: "empty id", task: Task{Priority: 1}, wantErr: true},
		{name: "blank id", task: Task{ID: "  \t"}, wantErr: true},
		{name: "negative timeout", task: Task{ID: "x", Timeout: -1}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTask) {
					t.Fatalf("Validate() = %v, want ErrInvalidTask", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestIdentityIgnoresPriority(t *testing.T) {
	a := Task{ID: "ABC", Priority: 1}
	b := Task{ID: "ABC", Priority: 9}
	c := Task{ID: "DEF", Priority: 1}

	if !a.SameID(b) || !Equal(a, b) {
		t.Fatal("tasks with the same id should be equal regardless of priority")
	}
	if a.SameID(c) || Equal(a, c) {
		t.Fatal("tasks with different ids should not be equal")
	}
	if a.SameID(nil) {
		t.Fatal("SameID(nil) should be false")
	}
}

func TestExecutionErrorUnwrap(t *testing.T) {
	err := error(&ExecutionError{ID: "ABC", Err: io.ErrUnexpectedEOF})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("errors.Is through ExecutionError failed: %v", err)
	}
	var ee *ExecutionError
	if !errors.As(err, &ee) || ee.IsPanic() {
		t.Fatalf("errors.As = %v, panic = %v", ee, ee.IsPanic())
	}

	p := &ExecutionError{ID: "X", Panic: "boom"}
	if !p.IsPanic() || p.Error() != "task X panicked: boom" {
		t.Fatalf("unexpected panic error: %q", p.Error())
	}
}

func TestIDs(t *testing.T) {
	got := IDs([]Task{{ID: "a"}, {ID: "b"}})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("IDs = %v", got)
	}
}

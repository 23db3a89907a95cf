// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"
)

func TestActionableErrorError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ActionableError
		want string
	}{
		{
			name: "operation only",
			err:  &ActionableError{Operation: "load configuration"},
			want: "failed to load configuration",
		},
		{
			name: "with resource",
			err:  &ActionableError{Operation: "load configuration", Resource: "modkit.cue"},
			want: "failed to load configuration: modkit.cue",
		},
		{
			name: "with cause",
			err: &ActionableError{
				Operation: "load configuration",
				Resource:  "modkit.cue",
				Cause:     errors.New("file not found"),
			},
			want: "failed to load configuration: modkit.cue: file not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionableErrorFormat(t *testing.T) {
	t.Parallel()

	nested := &ActionableError{
		Operation:   "build registry",
		Suggestions: []string{"Pass a tag", "Check the pack"},
		Cause: &ActionableError{
			Operation: "resolve pack",
			Cause:     errors.New("no active registry"),
		},
	}

	tests := []struct {
		name     string
		verbose  bool
		contains []string
		excludes []string
	}{
		{
			name:     "terse",
			contains: []string{"failed to build registry", "• Pass a tag", "• Check the pack"},
			excludes: []string{"Error chain:"},
		},
		{
			name:    "verbose",
			verbose: true,
			contains: []string{
				"Error chain:",
				"1. failed to resolve pack: no active registry",
				"2. no active registry",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := nested.Format(tt.verbose)
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("Format() missing %q\ngot:\n%s", s, got)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(got, s) {
					t.Errorf("Format() contains %q\ngot:\n%s", s, got)
				}
			}
		})
	}
}

func TestErrorContextBuild(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := NewErrorContext().
		WithOperation("load configuration").
		WithResource("modkit.toml").
		WithSuggestion("one").
		WithSuggestion("two").
		WithIssue(ConfigLoadFailedId).
		Wrap(cause).
		BuildError()

	var ae *ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("BuildError() = %T", err)
	}
	if ae.Resource != "modkit.toml" || len(ae.Suggestions) != 2 || ae.Issue != ConfigLoadFailedId {
		t.Errorf("built %+v", ae)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through errors.Is")
	}

	if NewErrorContext().WithResource("x").BuildError() != nil {
		t.Error("BuildError() without operation != nil")
	}
	if NewErrorContext().Build() != nil {
		t.Error("Build() without operation != nil")
	}
}

func TestWrapWithOperation(t *testing.T) {
	t.Parallel()

	if WrapWithOperation(nil, "x") != nil {
		t.Error("WrapWithOperation(nil) != nil")
	}
	cause := errors.New("denied")
	if got := WrapWithOperation(cause, "open unit"); got.Error() != "failed to open unit: denied" {
		t.Errorf("WrapWithOperation() = %q", got.Error())
	}
}

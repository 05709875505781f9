package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("connection refused")
	err := newError(StrategyVector, KindAdapterUnavailable, cause)

	if !strings.Contains(err.Error(), "vector") {
		t.Errorf("Error() = %q, missing strategy name", err.Error())
	}
	if !strings.Contains(err.Error(), "adapter_unavailable") {
		t.Errorf("Error() = %q, missing error kind", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is does not reach the wrapped cause")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "typed error",
			err:  newError(StrategyEnsemble, KindConfig, errors.New("no members")),
			want: KindConfig,
		},
		{
			name: "wrapped typed error",
			err:  fmt.Errorf("outer: %w", newError(StrategyRerank, KindSubStrategyFailure, errors.New("inner"))),
			want: KindSubStrategyFailure,
		},
		{
			name: "deadline maps to timeout",
			err:  fmt.Errorf("call: %w", context.DeadlineExceeded),
			want: KindTimeout,
		},
		{
			name: "plain error has no kind",
			err:  errors.New("plain"),
			want: "",
		},
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

package store

import (
	"testing"
	"time"
)

func TestMessageBefore(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		a, b Message
		want bool
	}{
		{
			"earlier timestamp",
			Message{ID: "z", CreatedAt: base},
			Message{ID: "a", CreatedAt: base.Add(time.Second)},
			true,
		},
		{
			"later timestamp",
			Message{ID: "a", CreatedAt: base.Add(time.Second)},
			Message{ID: "z", CreatedAt: base},
			false,
		},
		{
			"tie broken by id",
			Message{ID: "a", CreatedAt: base},
			Message{ID: "b", CreatedAt: base},
			true,
		},
		{
			"equal is not before",
			Message{ID: "a", CreatedAt: base},
			Message{ID: "a", CreatedAt: base},
			false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Before(tc.b); got != tc.want {
				t.Errorf("Before() = %v, want %v", got, tc.want)
			}
		})
	}
}

package schedule

import (
	"testing"
	"time"
)

func TestAtDispatchHour(t *testing.T) {
	in := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	got := AtDispatchHour(in, 20)
	want := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNextBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "before boundary same day",
			in:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly at boundary",
			in:   time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
		},
		{
			name: "after boundary rolls to next day",
			in:   time.Date(2026, 3, 14, 20, 0, 1, 0, time.UTC),
			want: time.Date(2026, 3, 15, 20, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextBoundary(tt.in, 20)
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

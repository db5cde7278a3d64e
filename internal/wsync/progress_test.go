package wsync

import "testing"

func TestSplitPhases(t *testing.T) {
	tests := []struct {
		name   string
		active []bool
		want   []phaseSpan
	}{
		{"all", []bool{true, true, true}, []phaseSpan{{0, 1.0 / 3}, {1.0 / 3, 1.0 / 3}, {2.0 / 3, 1.0 / 3}}},
		{"build only", []bool{false, false, true}, []phaseSpan{{0, 0}, {0, 0}, {0, 1}}},
		{"sync and build", []bool{true, false, true}, []phaseSpan{{0, 0.5}, {0.5, 0}, {0.5, 0.5}}},
		{"none", []bool{false, false}, []phaseSpan{{0, 0}, {0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitPhases(tt.active...)
			if len(got) != len(tt.want) {
				t.Fatalf("len(splitPhases()) = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if diff := got[i].start - tt.want[i].start; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("span %d start = %v, want %v", i, got[i].start, tt.want[i].start)
				}
				if diff := got[i].size - tt.want[i].size; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("span %d size = %v, want %v", i, got[i].size, tt.want[i].size)
				}
			}
		})
	}
}

func TestPhaseSpan_At(t *testing.T) {
	p := phaseSpan{start: 0.5, size: 0.25}
	tests := []struct {
		in, want float64
	}{
		{0, 0.5},
		{0.5, 0.625},
		{1, 0.75},
		{2, 0.75},
		{-1, 0.5},
	}
	for _, tt := range tests {
		if got := p.at(tt.in); got != tt.want {
			t.Errorf("at(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSettleCanceled(t *testing.T) {
	tests := []struct {
		name        string
		result      WorkspaceUpdateResult
		message     string
		interrupted bool
		want        WorkspaceUpdateResult
		wantMessage string
	}{
		{"success stays after a late cancel", ResultSuccess, "", true, ResultSuccess, ""},
		{"failure becomes canceled", ResultFailedToCompile, "Compile failed", true, ResultCanceled, ""},
		{"sync failure becomes canceled", ResultFailedToSync, "p4 exited", true, ResultCanceled, ""},
		{"not interrupted", ResultFailedToSync, "p4 exited", false, ResultFailedToSync, "p4 exited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := settleCanceled(tt.result, tt.message, tt.interrupted)
			if got != tt.want || msg != tt.wantMessage {
				t.Errorf("settleCanceled() = %v, %q; want %v, %q", got, msg, tt.want, tt.wantMessage)
			}
		})
	}
}

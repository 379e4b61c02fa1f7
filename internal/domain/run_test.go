package domain

import "testing"

func TestRunStatusTerminal(t *testing.T) {
	cases := []struct {
		status   RunStatus
		terminal bool
	}{
		{RunStatusRunning, false},
		{RunStatusSuccess, true},
		{RunStatusFailure, true},
		{RunStatusTimeout, true},
		{RunStatus("unknown"), false},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}

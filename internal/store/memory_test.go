package store

import "testing"

func TestMemoryStore(t *testing.T) {
	runContract(t, func(t *testing.T) Store {
		return NewMemory()
	})
}

func TestGuardMatches(t *testing.T) {
	game := Game{Status: StatusMasterWriting, CurrentRound: 2, MasterID: "m"}
	cases := []struct {
		name  string
		guard Guard
		want  bool
	}{
		{"status only", Guard{Status: StatusMasterWriting}, true},
		{"wrong status", Guard{Status: StatusGenerating}, false},
		{"round pinned", Guard{Status: StatusMasterWriting, Round: 2}, true},
		{"stale round", Guard{Status: StatusMasterWriting, Round: 1}, false},
		{"master pinned", Guard{Status: StatusMasterWriting, MasterID: "m"}, true},
		{"stale master", Guard{Status: StatusMasterWriting, MasterID: "x"}, false},
	}
	for _, tc := range cases {
		if got := tc.guard.Matches(game); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsOn(t *testing.T) {
	r := New(nil)

	require.True(t, r.Enabled(FlagRunLedger))
	require.True(t, r.Enabled(FlagServeCache))
	require.Equal(t, Defaults(), r.All())
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]bool
		flag   string
		want   bool
	}{
		{"config disables ledger", map[string]bool{FlagRunLedger: false}, FlagRunLedger, false},
		{"disabling one leaves the other", map[string]bool{FlagRunLedger: false}, FlagServeCache, true},
		{"config disables cache", map[string]bool{FlagServeCache: false}, FlagServeCache, false},
		{"extra flag from config", map[string]bool{"tile-preview": true}, "tile-preview", true},
		{"unknown flag is off", nil, "tile-preview", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, New(tt.config).Enabled(tt.flag))
		})
	}
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	require.False(t, r.Enabled(FlagRunLedger))
	require.Empty(t, r.All())
}

func TestAll_MergesConfigOverDefaults(t *testing.T) {
	r := New(map[string]bool{FlagServeCache: false, "tile-preview": true})
	require.Equal(t, map[string]bool{
		FlagRunLedger:  true,
		FlagServeCache: false,
		"tile-preview": true,
	}, r.All())
}

func TestRegistry_IsolatedFromCallers(t *testing.T) {
	in := map[string]bool{FlagRunLedger: true}
	r := New(in)
	in[FlagRunLedger] = false
	require.True(t, r.Enabled(FlagRunLedger), "input map is copied")

	all := r.All()
	all[FlagServeCache] = false
	require.True(t, r.Enabled(FlagServeCache), "All returns a copy")
}

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseTransitions(t *testing.T) {
	allowed := map[[2]Phase]bool{
		{PhaseHandshaking, PhaseStatus}: true,
		{PhaseHandshaking, PhaseLogin}:  true,
		{PhaseLogin, PhasePlay}:         true,
	}
	for _, from := range Phases {
		for _, to := range Phases {
			assert.Equal(t, allowed[[2]Phase{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestPhaseForNextState(t *testing.T) {
	p, err := PhaseForNextState(NextStateStatus)
	require.NoError(t, err)
	assert.Equal(t, PhaseStatus, p)

	p, err = PhaseForNextState(NextStateLogin)
	require.NoError(t, err)
	assert.Equal(t, PhaseLogin, p)

	for _, bad := range []int{0, 3, -1} {
		_, err := PhaseForNextState(bad)
		assert.Error(t, err, bad)
	}
}

func TestPhaseText(t *testing.T) {
	data, err := json.Marshal(map[string]Phase{"p": PhasePlay})
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":"play"}`, string(data))

	var out map[string]Phase
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, PhasePlay, out["p"])

	var p Phase
	assert.Error(t, p.UnmarshalText([]byte("lobby")))
	assert.Equal(t, "phase(9)", Phase(9).String())
}

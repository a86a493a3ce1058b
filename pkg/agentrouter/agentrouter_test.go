package agentrouter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kunal/llm-gateway/pkg/registry"
	"github.com/kunal/llm-gateway/pkg/types"
)

func TestNew_RejectsEmptyCandidateList(t *testing.T) {
	_, err := New(map[types.AgentKind][]string{types.AgentChat: {}}, registry.New(nil))
	require.Error(t, err)
}

func TestRouter_CandidatesReturnsOrderedCopy(t *testing.T) {
	r, err := New(map[types.AgentKind][]string{types.AgentChat: {"m1", "m2"}}, registry.New(nil))
	require.NoError(t, err)

	c, err := r.Candidates(types.AgentChat)
	require.NoError(t, err)
	require.Equal(t, []string{"m1", "m2"}, c)

	c[0] = "mutated"
	c2, _ := r.Candidates(types.AgentChat)
	require.Equal(t, "m1", c2[0])
}

func TestRouter_CandidatesUnknownKind(t *testing.T) {
	r, err := New(map[types.AgentKind][]string{types.AgentChat: {"m1"}}, registry.New(nil))
	require.NoError(t, err)

	_, err = r.Candidates(types.AgentBilling)
	require.Error(t, err)
}

func TestRouter_KindsReturnsAllConfiguredKinds(t *testing.T) {
	r, err := New(map[types.AgentKind][]string{
		types.AgentChat:    {"m1"},
		types.AgentBilling: {"m2"},
	}, registry.New(nil))
	require.NoError(t, err)

	require.ElementsMatch(t, []types.AgentKind{types.AgentChat, types.AgentBilling}, r.Kinds())
}

func TestRouter_CandidatesForContextFiltersByMaxTokens(t *testing.T) {
	reg := registry.New(nil)
	reg.Register(registry.ModelEntry{LogicalName: "small", MaxContextTokens: 2048})
	reg.Register(registry.ModelEntry{LogicalName: "large", MaxContextTokens: 8192})

	r, err := New(map[types.AgentKind][]string{types.AgentChat: {"small", "large"}}, reg)
	require.NoError(t, err)

	out, err := r.CandidatesForContext(types.AgentChat, 4096)
	require.NoError(t, err)
	require.Equal(t, []string{"large"}, out)
}

func TestRouter_CandidatesForContextSkipsUnregisteredModels(t *testing.T) {
	reg := registry.New(nil)
	reg.Register(registry.ModelEntry{LogicalName: "known", MaxContextTokens: 8192})

	r, err := New(map[types.AgentKind][]string{types.AgentChat: {"known", "ghost"}}, reg)
	require.NoError(t, err)

	out, err := r.CandidatesForContext(types.AgentChat, 1024)
	require.NoError(t, err)
	require.Equal(t, []string{"known"}, out)
}

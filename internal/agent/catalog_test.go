package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/store"
)

const sampleCatalog = `
[[agents]]
id = "ai_helper"
name = "Helper"
persona = "You are concise."
temperature = 0.7
top_p = 0.9
rooms = ["general", "random"]

[[agents]]
id = "ai_critic"
name = "Critic"
persona = "You disagree politely."
rooms = ["general"]

[[rooms]]
id = "general"
members = ["alice", "bob"]

[[rooms]]
id = "random"
members = ["carol"]
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog))
	require.NoError(t, err)

	require.Len(t, c.Agents, 2)
	helper := c.Agents[0]
	assert.Equal(t, "ai_helper", helper.ID)
	require.NotNil(t, helper.Temperature)
	assert.InDelta(t, 0.7, *helper.Temperature, 1e-9)
	require.NotNil(t, helper.TopP)
	assert.Nil(t, c.Agents[1].Temperature)
	assert.Equal(t, []string{"general", "random"}, helper.Rooms)
	require.Len(t, c.Rooms, 2)
}

func TestParseCatalog_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseCatalog([]byte("[[agents]]\nid = \"a\"\nname = \"A\"\nmodel = \"x\"\n"))
	assert.ErrorContains(t, err, "unknown keys")
}

func TestCatalogValidate(t *testing.T) {
	hot := 3.0
	zero := 0.0
	c := &Catalog{
		Agents: []CatalogAgent{
			{ID: "", Name: "nameless"},
			{ID: "ai_a", Name: "A"},
			{ID: "ai_a", Name: "A again"},
			{ID: "ai_b", Name: "", Temperature: &hot, TopP: &zero},
		},
		Rooms: []CatalogRoom{
			{ID: ""},
			{ID: "general", Members: []string{"alice", "ai_a"}},
		},
	}

	err := c.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"agents[0]: id is required",
		`duplicate id "ai_a"`,
		`agent "ai_b": name is required`,
		"temperature must be within",
		"top_p must be within",
		"rooms[0]: id is required",
		`member "ai_a" is an agent id`,
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestCatalogApply_SQLite(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	defer s.Close()

	path := filepath.Join(t.TempDir(), "agents.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Apply(ctx, s))
	// Applying twice is harmless.
	require.NoError(t, c.Apply(ctx, s))

	agents, err := s.ListRoomAgents(ctx, "general")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ai_helper", "ai_critic"}, agents)

	members, err := s.ListMembers(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)

	helper, err := s.GetAgent(ctx, "ai_helper")
	require.NoError(t, err)
	assert.Equal(t, "Helper", helper.Name)
	assert.Equal(t, "You are concise.", helper.Persona)
	require.NotNil(t, helper.TopP)
	assert.InDelta(t, 0.9, *helper.TopP, 1e-9)
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

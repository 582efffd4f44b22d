// ABOUTME: TOML catalog of agent profiles, rooms and attachments
// ABOUTME: Applied by the seed command to populate a fresh database

package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/2389/coven-chat/internal/store"
)

// Catalog is the seed data for agents and rooms.
type Catalog struct {
	Agents []CatalogAgent `toml:"agents"`
	Rooms  []CatalogRoom  `toml:"rooms"`
}

// CatalogAgent is one agent profile and the rooms it joins.
type CatalogAgent struct {
	ID          string   `toml:"id"`
	Name        string   `toml:"name"`
	Persona     string   `toml:"persona"`
	Temperature *float64 `toml:"temperature"`
	TopP        *float64 `toml:"top_p"`
	Rooms       []string `toml:"rooms"`
}

// CatalogRoom lists a room's human members.
type CatalogRoom struct {
	ID      string   `toml:"id"`
	Members []string `toml:"members"`
}

// SeedStore is what Apply writes to.
type SeedStore interface {
	UpsertAgent(ctx context.Context, agent *store.AgentProfile) error
	AttachAgent(ctx context.Context, roomID, agentID string) error
	AddMember(ctx context.Context, roomID, memberID string) error
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog TOML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing catalog: unknown keys %v", undecoded)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ids are present and that agent and member ids never collide.
func (c *Catalog) Validate() error {
	var errs []error

	agents := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if strings.TrimSpace(a.ID) == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: id is required", i))
			continue
		}
		if agents[a.ID] {
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID))
		}
		agents[a.ID] = true
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, fmt.Errorf("agent %q: name is required", a.ID))
		}
		if a.Temperature != nil && (*a.Temperature < 0 || *a.Temperature > 2) {
			errs = append(errs, fmt.Errorf("agent %q: temperature must be within [0, 2]", a.ID))
		}
		if a.TopP != nil && (*a.TopP <= 0 || *a.TopP > 1) {
			errs = append(errs, fmt.Errorf("agent %q: top_p must be within (0, 1]", a.ID))
		}
	}

	for i, r := range c.Rooms {
		if strings.TrimSpace(r.ID) == "" {
			errs = append(errs, fmt.Errorf("rooms[%d]: id is required", i))
			continue
		}
		for _, m := range r.Members {
			if agents[m] {
				errs = append(errs, fmt.Errorf("room %q: member %q is an agent id", r.ID, m))
			}
		}
	}

	return errors.Join(errs...)
}

// Apply upserts every agent, adds room members and attaches agents to rooms.
func (c *Catalog) Apply(ctx context.Context, s SeedStore) error {
	for _, a := range c.Agents {
		err := s.UpsertAgent(ctx, &store.AgentProfile{
			ID:          a.ID,
			Name:        a.Name,
			Persona:     a.Persona,
			Temperature: a.Temperature,
			TopP:        a.TopP,
		})
		if err != nil {
			return fmt.Errorf("upserting agent %s: %w", a.ID, err)
		}
	}

	for _, r := range c.Rooms {
		for _, m := range r.Members {
			if err := s.AddMember(ctx, r.ID, m); err != nil {
				return fmt.Errorf("adding %s to room %s: %w", m, r.ID, err)
			}
		}
	}

	for _, a := range c.Agents {
		for _, roomID := range a.Rooms {
			if err := s.AttachAgent(ctx, roomID, a.ID); err != nil {
				return fmt.Errorf("attaching agent %s to room %s: %w", a.ID, roomID, err)
			}
		}
	}
	return nil
}

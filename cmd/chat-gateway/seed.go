// ABOUTME: Offline subcommands that work on the database and secret directly
// ABOUTME: seed applies an agent catalog; token mints a member JWT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/agent"
	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/store"
)

// defaultTokenTTL is 30 days.
const defaultTokenTTL = 30 * 24 * time.Hour

func runSeed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	catalogPath := fs.String("catalog", "", "TOML agent catalog")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	path := *catalogPath
	if path == "" {
		path = cfg.Agents.Catalog
	}
	if path == "" {
		return errors.New("--catalog is required when agents.catalog is not configured")
	}

	catalog, err := agent.LoadCatalog(path)
	if err != nil {
		return err
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	if err := catalog.Apply(ctx, s); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)
	for _, a := range catalog.Agents {
		green.Print("  ✓ ")
		fmt.Printf("Agent %s (%s) in %s\n", a.ID, a.Name, strings.Join(a.Rooms, ", "))
	}
	for _, r := range catalog.Rooms {
		green.Print("  ✓ ")
		fmt.Printf("Room %s: %d member(s)\n", r.ID, len(r.Members))
	}
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	member := fs.String("member", "", "member ID (token subject)")
	name := fs.String("name", "", "display name")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id := strings.TrimSpace(*member)
	if id == "" {
		return errors.New("--member is required")
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(id, strings.TrimSpace(*name), *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

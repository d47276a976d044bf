/*
skillctl - Administrative CLI for the skill engine

PURPOSE:
  Operates directly on a SQLite database, without a running server. Every
  write goes through the same engine and validation layer the HTTP API uses.

COMMANDS:
  generate-id <name>                          Preview the ID derived from a name
  import <file.json>                          Load a project definition (factory JSON)
  create-skill <project> <subject> <name>     Create one skill (form-gated)
  record <project> <skill> <user>...          Record one event per user
  progress <project> <skill> <user>           Show (skill, user) progress
  points <project> <user>                     Show project points of a user
  reconcile                                   Rebuild drifted progress rows

GLOBAL FLAGS:
  --config  YAML config file (same keys as the server)
  --db      SQLite path (overrides storage.db_path)
  --json    JSON output

EXIT CODES:
  0  success
  1  command failed (validation, conflict, lookup, store)
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/skill-engine/config"
	"github.com/warp/skill-engine/skills"
	"github.com/warp/skill-engine/store/sqlite"
	"github.com/warp/skill-engine/users"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	flagConfig string
	flagDB     string
	flagJSON   bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "skillctl",
		Short:         "Administer skills, dependencies and events",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (overrides config)")
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output")

	root.AddCommand(
		newGenerateIDCmd(),
		newImportCmd(),
		newCreateSkillCmd(),
		newRecordCmd(),
		newProgressCmd(),
		newPointsCmd(),
		newReconcileCmd(),
	)
	return root
}

// =============================================================================
// ENGINE WIRING
// =============================================================================

type session struct {
	cfg    *config.Config
	store  *sqlite.Store
	engine *skills.Engine
}

func openSession() (*session, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.Storage.DBPath = flagDB
	}

	store, err := sqlite.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Storage.DBPath, err)
	}

	var dir users.Directory = users.NewMemory(cfg.Directory.Open)
	if cfg.Directory.Mode == "http" {
		dir = users.NewHTTP(cfg.Directory.BaseURL,
			users.WithRateLimit(cfg.Directory.RatePerSec),
			users.WithTimeout(cfg.Directory.Timeout),
		)
	}

	engine := skills.New(store, dir,
		skills.WithRepeatPolicy(cfg.RepeatPolicy()),
		skills.WithBatchConcurrency(cfg.Events.BatchConcurrency),
	)
	return &session{cfg: cfg, store: store, engine: engine}, nil
}

func (s *session) Close() {
	s.store.Close()
}

// withSession opens the database for the duration of one command.
func withSession(fn func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(cmd.Context(), cmd, s, args)
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

// output prints v as JSON when --json is set, otherwise the text form.
func output(w io.Writer, v any, text string) error {
	if flagJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

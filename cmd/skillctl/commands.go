package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/skill-engine/core"
	"github.com/warp/skill-engine/factory"
	"github.com/warp/skill-engine/skills"
	"github.com/warp/skill-engine/validation"
)

// =============================================================================
// GENERATE-ID
// =============================================================================

func newGenerateIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-id <name>",
		Short: "Preview the skill ID derived from a display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.Check(validation.FieldSkillName, args[0], validation.SkillNameRules()); err != nil {
				return err
			}
			id := skills.GenerateID(args[0])
			return output(cmd.OutOrStdout(), map[string]string{"skillId": string(id)}, string(id))
		},
	}
}

// =============================================================================
// IMPORT
// =============================================================================

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Load a project definition (subjects, skills, dependencies, events)",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			f := factory.NewProjectFactory()
			pj, err := f.ParseProject(string(raw))
			if err != nil {
				return err
			}
			res, err := f.Apply(ctx, s.engine, pj)
			if err != nil {
				return err
			}

			failed := 0
			for _, o := range res.Events {
				if o.Err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "event %s: %v\n", o.UserID, o.Err)
				}
			}
			summary := map[string]int{
				"subjects":     len(res.Subjects),
				"skills":       len(res.Skills),
				"dependencies": len(res.Edges),
				"events":       len(res.Events) - failed,
				"failedEvents": failed,
			}
			return output(cmd.OutOrStdout(), summary, fmt.Sprintf(
				"imported project %s: %d subjects, %d skills, %d dependencies, %d events (%d failed)",
				res.Project.ID, len(res.Subjects), len(res.Skills), len(res.Edges), len(res.Events)-failed, failed))
		}),
	}
}

// =============================================================================
// CREATE-SKILL
// =============================================================================

var (
	createSkillID        string
	createSkillIncrement int
	createSkillCount     int
)

func newCreateSkillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-skill <project> <subject> <name>",
		Short: "Create a skill after the name, ID and availability checks pass",
		Args:  cobra.ExactArgs(3),
		RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			projectID := core.ProjectID(args[0])
			name := args[2]
			id := core.SkillID(createSkillID)
			if id == "" {
				id = skills.GenerateID(name)
			}

			form := validation.NewForm(ctx)
			defer form.Close()
			form.AddField(validation.FieldSkillName, validation.SkillNameRules(), nil)
			form.AddField(validation.FieldSkillID, validation.SkillIDRules(), s.engine.Definitions.AvailabilityCheck(projectID))
			form.Set(validation.FieldSkillName, name)
			form.Set(validation.FieldSkillID, string(id))

			settleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := form.Settle(settleCtx); err != nil {
				return err
			}
			if !form.CanSubmit() {
				var msgs []string
				for _, fe := range form.Errors() {
					msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
				}
				return errors.New(strings.Join(msgs, "; "))
			}

			sk, err := s.engine.Definitions.Create(ctx, skills.CreateSkill{
				ID:                     id,
				ProjectID:              projectID,
				SubjectID:              core.SubjectID(args[1]),
				Name:                   name,
				PointIncrement:         createSkillIncrement,
				NumPerformToCompletion: createSkillCount,
			})
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), sk, fmt.Sprintf("created %s (%d points)", sk.ID, sk.TotalPoints))
		}),
	}
	cmd.Flags().StringVar(&createSkillID, "id", "", "explicit skill ID (default: derived from name)")
	cmd.Flags().IntVar(&createSkillIncrement, "points", factory.DefaultPointIncrement, "points per occurrence")
	cmd.Flags().IntVar(&createSkillCount, "occurrences", factory.DefaultNumPerformToCompletion, "occurrences to completion")
	return cmd
}

// =============================================================================
// RECORD / PROGRESS / POINTS
// =============================================================================

func newRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record <project> <skill> <user>...",
		Short: "Record one event per user",
		Args:  cobra.MinimumNArgs(3),
		RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			outcomes := s.engine.Recorder.RecordBatch(ctx, core.ProjectID(args[0]), core.SkillID(args[1]), args[2:])

			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s FAILED  %v\n", o.UserID, o.Err)
					continue
				}
				if !flagJSON {
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s %d events, %d points, completed=%t\n",
						o.UserID, o.Progress.EventCount, o.Progress.PointsEarned, o.Progress.IsCompleted)
				}
			}
			if flagJSON {
				if err := output(cmd.OutOrStdout(), outcomes, ""); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d events failed", failed, len(outcomes))
			}
			return nil
		}),
	}
}

func newProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <project> <skill> <user>",
		Short: "Show progress of one user on one skill",
		Args:  cobra.ExactArgs(3),
		RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			p, err := s.engine.Recorder.Progress(ctx, core.ProjectID(args[0]), core.SkillID(args[1]), args[2])
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), p, fmt.Sprintf("%s: %d events, %d points, completed=%t",
				p.Key(), p.EventCount, p.PointsEarned, p.IsCompleted))
		}),
	}
}

func newPointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "points <project> <user>",
		Short: "Show a user's points across a project",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			amt, err := s.engine.Recorder.UserPoints(ctx, core.ProjectID(args[0]), args[1])
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), map[string]string{"points": amt.Value.String()}, amt.String())
		}),
	}
}

// =============================================================================
// RECONCILE
// =============================================================================

var reconcileDryRun bool

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild progress rows that disagree with the event log",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			projects, err := s.engine.Definitions.Projects(ctx)
			if err != nil {
				return err
			}
			var keys []string
			for _, p := range projects {
				var drifted []core.ProgressKey
				if reconcileDryRun {
					drifted, err = s.engine.Recorder.Drift(ctx, p.ID)
				} else {
					drifted, err = s.engine.Recorder.Rebuild(ctx, p.ID)
				}
				if err != nil {
					return fmt.Errorf("project %s: %w", p.ID, err)
				}
				for _, k := range drifted {
					keys = append(keys, k.String())
				}
			}
			verb := "repaired"
			if reconcileDryRun {
				verb = "drifted"
			}
			return output(cmd.OutOrStdout(), map[string][]string{verb: keys},
				fmt.Sprintf("%d projects checked, %d rows %s", len(projects), len(keys), verb))
		}),
	}
	cmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "report drift without repairing")
	return cmd
}

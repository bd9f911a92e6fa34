package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearpath-id/kyc-engine/internal/model"
	"github.com/clearpath-id/kyc-engine/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect verification sessions",
	Long:  "Commands for listing, viewing, and summarizing verification sessions in the archive.",
}

// -- sessions list --

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stage, _ := cmd.Flags().GetString("stage")
		outcome, _ := cmd.Flags().GetString("outcome")
		active, _ := cmd.Flags().GetBool("active")
		idle, _ := cmd.Flags().GetDuration("idle")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.SessionFilter{
			Stage:      model.Stage(stage),
			Outcome:    model.Outcome(outcome),
			ActiveOnly: active,
			Limit:      limit,
		}
		if idle > 0 {
			filter.IdleBefore = time.Now().Add(-idle)
		}

		sessions, err := st.ListSessions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "sessions list")
		}

		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}

		formatSessionsList(os.Stdout, sessions)
		return nil
	},
}

// -- sessions show --

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show full details of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		s, err := st.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions show")
		}
		if s == nil {
			return eris.Errorf("session %s not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return err
		}

		att, err := st.GetAttestationBySession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions show attestation")
		}
		if att != nil {
			fmt.Fprintln(os.Stdout, "Attestation:")
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(att)
		}
		return nil
	},
}

// -- sessions stats --

var sessionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate session statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		filter := store.SessionFilter{Limit: 10000} // high limit for stats
		sessions, err := st.ListSessions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "sessions stats")
		}

		stats := computeSessionStats(sessions)
		formatSessionStats(os.Stdout, stats)
		return nil
	},
}

// -- sessions sweep --

var sessionsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one abandonment sweep over idle sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		closed, err := env.Abandoner.Sweep(ctx)
		if err != nil {
			return eris.Wrap(err, "sessions sweep")
		}
		zap.L().Info("sweep complete", zap.Int("closed", closed))
		fmt.Fprintf(os.Stdout, "Closed %d abandoned session(s).\n", closed)
		return nil
	},
}

// -- sessions audit --

var sessionsAuditCmd = &cobra.Command{
	Use:   "audit <session-id>",
	Short: "Re-derive digests for a session and verify its attestation proof",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := env.Store.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions audit")
		}
		if s == nil {
			return eris.Errorf("session %s not found", args[0])
		}

		att, err := env.Store.GetAttestationBySession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions audit attestation")
		}
		if att == nil {
			return eris.Errorf("session %s has no attestation", args[0])
		}

		if err := env.Committer.Audit(ctx, s, att); err != nil {
			fmt.Fprintf(os.Stdout, "FAIL %s: %v\n", att.ID, err)
			return eris.Wrap(err, "sessions audit")
		}
		fmt.Fprintf(os.Stdout, "OK %s (%s, committed %s)\n",
			att.ID, att.ProofScheme, att.CommittedAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().String("stage", "", "filter by current stage (created, personal_info, document, contact, face, approved, rejected, manual_review)")
	sessionsListCmd.Flags().String("outcome", "", "filter by outcome (approved, rejected)")
	sessionsListCmd.Flags().Bool("active", false, "only sessions not yet terminal")
	sessionsListCmd.Flags().Duration("idle", 0, "only sessions idle longer than this (e.g. 24h)")
	sessionsListCmd.Flags().Int("limit", 50, "max number of sessions to display")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsStatsCmd)
	sessionsCmd.AddCommand(sessionsSweepCmd)
	sessionsCmd.AddCommand(sessionsAuditCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// sessionStats holds aggregate statistics computed from a set of sessions.
type sessionStats struct {
	Total        int
	Approved     int
	Rejected     int
	ManualReview int
	Active       int
	AvgDurSecs   float64
}

func computeSessionStats(sessions []model.VerificationSession) sessionStats {
	var s sessionStats
	s.Total = len(sessions)

	var totalDur time.Duration
	var durCount int

	for _, sess := range sessions {
		switch sess.CurrentStage {
		case model.StageApproved:
			s.Approved++
		case model.StageRejected:
			s.Rejected++
		case model.StageManualReview:
			s.ManualReview++
		default:
			s.Active++
			continue
		}
		totalDur += sess.UpdatedAt.Sub(sess.CreatedAt)
		durCount++
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatSessionsList writes a tabular list of sessions to w.
func formatSessionsList(out io.Writer, sessions []model.VerificationSession) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTAGE\tOUTCOME\tREASON\tCREATED\tUPDATED")
	for _, s := range sessions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID,
			s.CurrentStage,
			s.Outcome,
			s.FailureReason,
			s.CreatedAt.Format(time.RFC3339),
			s.UpdatedAt.Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}

// formatSessionStats writes aggregate statistics to w.
func formatSessionStats(out io.Writer, s sessionStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Approved:\t%d\n", s.Approved)
	_, _ = fmt.Fprintf(w, "Rejected:\t%d\n", s.Rejected)
	_, _ = fmt.Fprintf(w, "Manual review:\t%d\n", s.ManualReview)
	_, _ = fmt.Fprintf(w, "Active:\t%d\n", s.Active)
	_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	_ = w.Flush()
}

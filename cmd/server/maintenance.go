package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/exoxegroup/eng-ai/internal/services"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the store and mirror schemas",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, mirror, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer closeDB(db)
		defer mirror.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s, mirror %s)\n", cfg.Store.Driver, cfg.Store.MirrorPath)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep-codes",
	Short: "Remove expired verification codes and idempotency records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, mirror, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer closeDB(db)
		defer mirror.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		n, err := services.NewVerificationGate(db, nil).Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired codes\n", n)
		return nil
	},
}

var resyncCmd = &cobra.Command{
	Use:   "resync-mirror",
	Short: "Push locally mirrored sessions to the durable store",
	Long: `Writes every session kept in the local mirror to the durable store and
drops the ones that made it. Sessions the store already finished are left as
they are there. Terminations interrupted by a stopped process are finished
first, keeping only the fields known before the report.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, mirror, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer closeDB(db)
		defer mirror.Close()

		conv := services.NewConversationService(services.NewSessionStore(db), nil)
		conv.Mirror = mirror
		conv.OracleTimeout = cfg.Oracle.Timeout
		recovered, err := conv.RecoverTerminations(cmd.Context())
		if err != nil {
			return err
		}
		n, err := conv.ResyncMirror(cmd.Context())
		if err != nil {
			return err
		}
		left, err := mirror.List(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recovered %d interrupted terminations\n", recovered)
		fmt.Fprintf(cmd.OutOrStdout(), "synced %d sessions, %d left in mirror\n", n, len(left))
		return nil
	},
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/app"
	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/database"
	"github.com/qs3c/billing_server/internal/logging"
	"github.com/qs3c/billing_server/internal/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Billing maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg
			logging.InitWithWriter(cfg.Log, "billingctl", cmd.ErrOrStderr())
			return nil
		},
	}

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", defaultPath, "config file path")

	root.AddCommand(
		c.migrateCmd(),
		c.catalogCmd(),
		c.sweepCmd(),
		c.reconcileCmd(),
		c.expirePendingCmd(),
		c.walletCmd(),
	)
	return root
}

func (c *cli) open() (*app.App, error) {
	return app.New(c.cfg, app.Options{})
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update billing tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := database.AutoMigrate(a.DB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
}

func (c *cli) catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the effective plan and add-on catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.FromConfig(c.cfg.Catalog)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "PLAN\tPRICE\tDAYS\tOPT\tSCORE\tLINKEDIN\tGUIDED\n")
			for _, p := range cat.Plans() {
				e := p.Entitlements
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
					p.ID, p.Price, p.ValidityHours()/24,
					total(e.Optimizations), total(e.ScoreChecks), total(e.LinkedInMessages), total(e.GuidedBuilds))
			}
			fmt.Fprintf(w, "\nADD-ON\tPRICE\tKIND\tQTY\n")
			for _, a := range cat.AddOns() {
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\n", a.ID, a.Price, a.Kind, a.Quantity)
			}
			return w.Flush()
		},
	}
}

func total(n int) string {
	if n == model.Unlimited {
		return "unlimited"
	}
	return fmt.Sprint(n)
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark expired subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Usage.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d subscriptions\n", n)
			return nil
		},
	}
}

func (c *cli) reconcileCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run due reconciliation tasks now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			resolved, failed, err := a.Reconciler.RunDue(cmd.Context(), limit)
			if err != nil {
				return err
			}
			pending, err := a.Reconciler.PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved=%d failed=%d pending=%d\n", resolved, failed, pending)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max tasks to process")
	return cmd
}

func (c *cli) expirePendingCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "expire-pending",
		Short: "Close pending payments that never got a gateway order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if olderThan <= 0 {
				olderThan = c.cfg.Billing.StalePendingAfter()
			}
			n, err := a.Payments.ExpireStalePending(cmd.Context(), olderThan, 1000)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %d stale pending payments\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age threshold (default from config)")
	return cmd
}

func (c *cli) walletCmd() *cobra.Command {
	wallet := &cobra.Command{
		Use:   "wallet",
		Short: "Wallet ledger operations",
	}

	var userID, amount int64
	var ref, txType string
	credit := &cobra.Command{
		Use:   "credit",
		Short: "Append a completed wallet entry (negative amount debits)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.Wallet.Record(cmd.Context(), userID, amount, model.WalletCompleted, txType, ref)
			if err != nil {
				return err
			}
			balance, err := a.Wallet.Balance(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded entry %d (%s %d), balance %d\n", rec.ID, rec.Type, rec.Amount, balance)
			return nil
		},
	}
	credit.Flags().Int64Var(&userID, "user", 0, "user id")
	credit.Flags().Int64Var(&amount, "amount", 0, "amount in minor units")
	credit.Flags().StringVar(&ref, "ref", "", "transaction reference")
	credit.Flags().StringVar(&txType, "type", model.WalletTypeCompensation, "entry type")

	var balanceUser int64
	balance := &cobra.Command{
		Use:   "balance",
		Short: "Show wallet balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.Wallet.Balance(cmd.Context(), balanceUser)
			if err != nil {
				return err
			}
			avail, err := a.Wallet.Available(cmd.Context(), balanceUser)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "balance=%d available=%d\n", b, avail)
			return nil
		},
	}
	balance.Flags().Int64Var(&balanceUser, "user", 0, "user id")

	wallet.AddCommand(credit, balance)
	return wallet
}

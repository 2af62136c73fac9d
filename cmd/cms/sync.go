package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/xelth-com/trainingcms/internal/collections"
	"github.com/xelth-com/trainingcms/internal/logger"
	"github.com/xelth-com/trainingcms/internal/retention"
)

var exportCmd = &cobra.Command{
	Use:   "export [collection...]",
	Short: "Write collections to their snapshot files (all when none given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.close()

		syncers, err := a.syncers(args)
		if err != nil {
			return err
		}
		var failed int
		for _, s := range syncers {
			if err := s.Export(cmd.Context()); err != nil {
				logger.Errorf("%s: %v", s.Name(), err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", s.Name(), s.SnapshotPath())
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d exports failed", failed, len(syncers))
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <collection>",
	Short: "Make the database match a collection's snapshot file",
	Long: `Make the database match a collection's snapshot file.

Records missing from the snapshot are deleted. A missing snapshot is always
refused; an empty one is refused unless --allow-empty is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		allowEmpty, _ := cmd.Flags().GetBool("allow-empty")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return runImport(cmd, args[0], collections.ImportOptions{AllowEmpty: allowEmpty, DryRun: dryRun})
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <collection>",
	Short: "Show what an import would change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, args[0], collections.ImportOptions{DryRun: true})
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire [collection...]",
	Short: "Run one retention pass now (all collections with retention when none given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.close()

		mgr := a.registry.RetentionManager(a.sync, clock.RealClock{})
		names := args
		if len(names) == 0 {
			names = a.registry.Names()
		}

		var ran int
		for _, name := range names {
			sched, ok := mgr.Get(name)
			if !ok {
				if len(args) > 0 {
					return fmt.Errorf("retention is not configured for %q", name)
				}
				continue
			}
			res, err := sched.Tick(cmd.Context())
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			printExpiry(cmd, name, res)
			ran++
		}
		if ran == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no collection has retention configured")
		}
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("allow-empty", false, "Allow an empty snapshot to delete every record")
	importCmd.Flags().Bool("dry-run", false, "Only show what would change")
}

func runImport(cmd *cobra.Command, name string, opts collections.ImportOptions) error {
	a, err := bootstrap(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.close()

	s, ok := a.registry.Get(name)
	if !ok {
		return fmt.Errorf("unknown collection %q", name)
	}
	res, err := s.Import(cmd.Context(), opts)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func printExpiry(cmd *cobra.Command, name string, res retention.TickResult) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: expired %d", name, res.Expired)
	if res.ExportErr != nil {
		fmt.Fprintf(cmd.OutOrStdout(), " (snapshot not updated: %v)", res.ExportErr)
	}
	fmt.Fprintln(cmd.OutOrStdout())
}

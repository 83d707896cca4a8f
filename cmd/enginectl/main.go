package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/synnergy-radix/engine/core"
	"github.com/synnergy-radix/engine/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "enginectl"}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(inspectCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [manifest]",
		Short: "replay an RLP-encoded manifest against the configured database and print the receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, _ := cmd.Flags().GetString("env")
			cfg, err := config.Load(env)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			manifestBytes, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}

			log := logrus.NewEntry(logrus.StandardLogger())

			db, err := core.OpenSubstateDatabase(core.SubstateDatabaseConfig{
				WALPath: cfg.Database.Path,
			})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			boot := core.NewBootloader(db, bootloaderConfig(*cfg), noResources, noRoles, log)

			hdr := core.TransactionHeader{
				IntentHash:    sha256.Sum256(manifestBytes),
				ManifestBytes: manifestBytes,
				StartEpoch:    0,
				EndEpoch:      1 << 32,
			}
			receipt := boot.Run(hdr)
			printReceipt(receipt)
			return nil
		},
	}
	cmd.Flags().String("env", "", "environment name passed to config.Load (ENGINE_ENV is not read)")
	return cmd
}

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [node-id-hex]",
		Short: "print the entity type encoded in a node id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(args[0])
			if err != nil || len(raw) != 30 {
				return fmt.Errorf("expected a 30-byte hex node id")
			}
			var id core.NodeID
			copy(id[:], raw)
			fmt.Printf("entity_type=%d global=%v transient=%v\n", id.EntityType(), id.EntityType().IsGlobal(), id.EntityType().IsTransient())
			return nil
		},
	}
	return cmd
}

func bootloaderConfig(cfg config.Config) core.BootloaderConfig {
	return core.BootloaderConfig{
		FeeTable:          core.DefaultFeeTable(),
		SystemLoanUnits:   cfg.Costing.SystemLoanUnits,
		ExecutionPrice:    cfg.Costing.ExecutionUnitPrice,
		FinalizationPrice: cfg.Costing.FinalizationUnitPrice,
		StoragePrice:      cfg.Costing.StorageBytePrice,
		Limits: core.LimitsConfig{
			MaxCallDepth:    int(cfg.Limits.MaxCallDepth),
			MaxSubstateSize: int(cfg.Limits.MaxSubstateSize),
			MaxEventSize:    int(cfg.Limits.MaxEventSize),
			MaxLogSize:      int(cfg.Limits.MaxLogSize),
		},
	}
}

// noResources/noRoles are the bootloader's AuthModule hooks for a bare
// `enginectl run` invocation with no package registry loaded; a real
// deployment supplies these from the published package set.
func noResources(proof core.NodeID) core.NodeID { return core.NodeID{} }
func noRoles(actor core.Actor) (core.NodeID, string, bool) { return core.NodeID{}, "", false }

func printReceipt(r *core.Receipt) {
	switch r.Outcome {
	case core.OutcomeSuccess:
		fmt.Printf("SUCCESS updates=%d execution_cost=%d finalization_cost=%d\n",
			len(r.Updates), r.FeeSummary.ExecutionCost, r.FeeSummary.FinalizationCost)
	case core.OutcomeFailure:
		fmt.Printf("FAILURE error=%v execution_cost=%d\n", r.Error, r.FeeSummary.ExecutionCost)
	case core.OutcomeRejected:
		fmt.Printf("REJECTED reason=%v\n", r.Error)
	}
}

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sdhr-guard/sdhr/internal/buildinfo"
	"github.com/sdhr-guard/sdhr/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sdhr",
		Short: "Dynamic heterogeneous redundancy control plane for SDN controllers",
		Long: `sdhr keeps a pool of heterogeneous SDN controllers under one master.

It samples controller health, picks the master with an adaptive scheduler,
keeps flow tables and controller configuration converged, and fails over
with rollback when the master degrades.

Settings come from SDHR_* environment variables; the controller inventory
comes from the YAML file named by SDHR_INVENTORY.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newCheckConfigCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate environment settings and the controller inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			envCfg, err := config.LoadEnvConfig()
			if err != nil {
				return err
			}
			inv, err := config.LoadInventory(envCfg.InventoryPath)
			if err != nil {
				return err
			}
			printConfigSummary(cmd.OutOrStdout(), envCfg, inv)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Summary())
		},
	}
}

func printConfigSummary(w io.Writer, envCfg *config.EnvConfig, inv *config.Inventory) {
	fmt.Fprintf(w, "environment: ok (listen %s, state dir %s)\n",
		formatListenAddress(envCfg.ListenAddress, envCfg.Port), envCfg.StateDir)
	if envCfg.AdminToken == "" {
		fmt.Fprintln(w, "warning: SDHR_ADMIN_TOKEN is empty, API authentication is disabled")
	} else if strength := config.CheckAdminToken(envCfg.AdminToken, inv); strength.Weak {
		fmt.Fprintf(w, "warning: SDHR_ADMIN_TOKEN is weak (score %d/4, cracked in %s)\n",
			strength.Score, strength.CrackTime)
	}
	fmt.Fprintf(w, "inventory: ok (%d controllers, min %d, max %d)\n",
		len(inv.Controllers), inv.DHR.MinControllers, inv.DHR.MaxControllers)
	for _, c := range inv.Controllers {
		fmt.Fprintf(w, "  %s: %s via %s\n", c.ID, c.Type, c.Driver)
	}
}

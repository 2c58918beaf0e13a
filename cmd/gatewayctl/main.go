package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/config"
	"github.com/example/paygate/internal/database"
	"github.com/example/paygate/internal/store"
	"github.com/example/paygate/internal/utils"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "gatewayctl",
		Short:   "Inspect and seed payment gateway configuration",
		Version: Version,
	}

	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(hashPasswordCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore picks the same backend the server would, with a closer.
func openStore() (store.GatewayStore, func(), error) {
	cfg := config.Load()
	if cfg.GatewayStore == "file" {
		return store.NewFileStore(cfg.GatewayConfigFile), func() {}, nil
	}
	db, err := database.Open(database.Options{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.GatewayDBPath,
	}, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	return store.NewGormStore(db), func() { _ = database.Close(db) }, nil
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List gateway configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			gateways, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			records, err := gateways.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tACTIVE\tENV\tSTATUS\tVERSION")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%d\n",
					rec.GatewayName, rec.GatewayType, rec.IsActive, rec.Environment, rec.ConnectionStatus, rec.Version)
			}
			return w.Flush()
		},
	}
}

func getCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "get [name]",
		Short: "Show one gateway configuration with masked credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gateways, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := gateways.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("payment gateway %q not found", args[0])
			}
			if !reveal {
				utils.MaskCredentials(rec.Credentials)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print credentials unmasked")

	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Import a {\"gateways\": [...]} document, skipping existing names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gateways, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := store.ImportFile(cmd.Context(), gateways, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d gateway configuration(s)\n", n)
			return nil
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := utils.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

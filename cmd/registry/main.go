// Command registry runs the Registration Ledger's HTTP API: the registry
// side of the tdxid delegation protocol.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/confidentio/tdxid/pkg/api"
	"github.com/confidentio/tdxid/pkg/attestation"
	"github.com/confidentio/tdxid/pkg/log"
	"github.com/confidentio/tdxid/pkg/registry"
	"github.com/confidentio/tdxid/pkg/storage"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "registry",
	Short:   "tdxid registration ledger service",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("addr", ":3000", "Address to listen on")
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func run(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	addr, _ := cmd.Flags().GetString("addr")
	dbPath := envOr("REGISTRY_DB_PATH", "registry.db")
	skipTDXAuth, _ := strconv.ParseBool(os.Getenv("SKIP_TDX_AUTH"))
	pccsURL := os.Getenv("PCCS_URL")

	store, err := storage.NewLedgerStore(dbPath)
	if err != nil {
		return fmt.Errorf("open registry database: %w", err)
	}
	defer store.Close()

	ledger := registry.New(store, registry.Config{
		SkipTDXAuth: skipTDXAuth,
		Policy: attestation.Policy{
			CheckRevocations: true,
			FetchCollateral:  pccsURL != "",
			PCCSURL:          pccsURL,
		},
	})

	log.Logger.Info().Str("addr", addr).Bool("skip_tdx_auth", skipTDXAuth).Msg("registry service starting")
	server := api.NewRegistryServer(ledger)
	return server.ListenAndServe(addr)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

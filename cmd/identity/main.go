// Command identity runs the instance state machine's HTTP API: the
// identity side of the tdxid delegation protocol.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/confidentio/tdxid/pkg/api"
	"github.com/confidentio/tdxid/pkg/attestation"
	"github.com/confidentio/tdxid/pkg/identity"
	"github.com/confidentio/tdxid/pkg/log"
	"github.com/confidentio/tdxid/pkg/registryclient"
	"github.com/confidentio/tdxid/pkg/storage"
	"github.com/confidentio/tdxid/pkg/types"
	"github.com/confidentio/tdxid/pkg/workload"
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
	Use:     "identity",
	Short:   "tdxid instance identity service",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("addr", ":3001", "Address to listen on")
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
	storagePath := envOr("STORAGE_PATH", "/mnt")
	registryURL := envOr("REGISTRY_URL", "http://localhost:3000")
	mockTDXURL := os.Getenv("MOCK_TDX_URL")
	pccsURL := os.Getenv("PCCS_URL")

	store, err := storage.NewIdentityStore(storagePath)
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}

	var attester attestation.Provider
	if mockTDXURL != "" {
		attester = attestation.NewMockProvider(mockTDXURL)
	} else {
		hw, err := attestation.NewHardwareProvider()
		if err != nil {
			return fmt.Errorf("open TDX guest device (set MOCK_TDX_URL to use a mock instead): %w", err)
		}
		attester = hw
	}

	driver, err := workload.New(cmd.Context(), workload.Config{
		PodmanSocket:  envOr("PODMAN_SOCKET", "unix:///run/podman/podman.sock"),
		VolumeDir:     envOr("VOLUME_DIR", "/var/lib/tdxid/volumes"),
		SSHAddr:       envOr("SSH_ADDR", ":2222"),
		BootstrapPath: os.Getenv("BOOTSTRAP_SCRIPT"),
	})
	if err != nil {
		return fmt.Errorf("connect workload driver: %w", err)
	}

	if err := reconcileOrphan(cmd.Context(), store, driver); err != nil {
		return fmt.Errorf("reconcile orphaned workload: %w", err)
	}

	machine, err := identity.New(identity.Config{
		Store:    store,
		Registry: registryclient.New(registryURL),
		Driver:   driver,
		Attester: attester,
		Policy: attestation.Policy{
			CheckRevocations: true,
			FetchCollateral:  pccsURL != "",
			PCCSURL:          pccsURL,
		},
	})
	if err != nil {
		return fmt.Errorf("boot instance state machine: %w", err)
	}

	log.Logger.Info().Str("addr", addr).Msg("identity service starting")
	server := api.NewIdentityServer(machine)
	return server.ListenAndServe(addr)
}

// reconcileOrphan runs once at start-up, before the state machine is
// constructed or traffic is served. A crash between configure_workload's
// driver-side launch and the local record persist (spec.md §8 scenario 5)
// leaves the on-disk record one state behind an already-running
// container/mount/SSH listener; a later retry of configure_workload would
// then fail to recreate the container under the same name. If the
// persisted record shows OwnerRegistered - the state a crashed
// configure_workload attempt leaves behind - this tears down any such
// orphan before the machine (and any client retry) can observe it.
func reconcileOrphan(ctx context.Context, store *storage.IdentityStore, driver *workload.Driver) error {
	if !store.HasInstanceKey() || !store.HasRecord() {
		return nil
	}

	priv, err := store.ReadInstanceKey()
	if err != nil {
		return fmt.Errorf("load instance key for reconciliation: %w", err)
	}
	rec, err := store.ReadRecord()
	if err != nil {
		return fmt.Errorf("load identity record for reconciliation: %w", err)
	}

	if rec.State != types.OwnerRegistered {
		return nil
	}

	instanceID := hex.EncodeToString(priv.Public().(ed25519.PublicKey))
	log.Logger.Warn().Str("instance", instanceID).Msg("reconciling possible orphaned workload from a prior crash")
	return driver.Teardown(ctx, instanceID)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

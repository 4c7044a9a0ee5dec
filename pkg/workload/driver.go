package workload

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"sync"

	"github.com/confidentio/tdxid/pkg/log"
	"github.com/confidentio/tdxid/pkg/tdxerr"
	"github.com/confidentio/tdxid/pkg/types"
)

// Driver is the single entry point the instance state machine commands on
// configure_workload and expose_workload. It holds no back-reference to
// the Machine - every call is a command, every result is a return value
// (spec.md §9).
type Driver struct {
	runtime   *PodmanRuntime
	volumeDir string // base directory housing <instance>/{cipher,mount}
	sshAddr   string // e.g. ":2222"
	bootstrap string // optional bootstrap script path

	mu          sync.Mutex
	containerID string
	sshListener *SSHListener
}

// Config configures a Driver.
type Config struct {
	PodmanSocket  string
	VolumeDir     string
	SSHAddr       string
	BootstrapPath string
}

// New constructs a Driver backed by a podman connection.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	runtime, err := NewPodmanRuntime(ctx, cfg.PodmanSocket)
	if err != nil {
		return nil, err
	}
	return &Driver{
		runtime:   runtime,
		volumeDir: cfg.VolumeDir,
		sshAddr:   cfg.SSHAddr,
		bootstrap: cfg.BootstrapPath,
	}, nil
}

func (d *Driver) paths(instanceID string) (cipherDir, mountPoint string) {
	base := filepath.Join(d.volumeDir, instanceID)
	return filepath.Join(base, "cipher"), filepath.Join(base, "mount")
}

// ConfigureWorkload mounts the encrypted volume, launches the container,
// runs the bootstrap hook, and starts the SSH listener pinned to
// ownerPubkey - the three (a)/(b)/(c) steps of spec.md §4.1's
// configure_workload, as a single observably-successful or fully-rolled-
// back unit.
func (d *Driver) ConfigureWorkload(ctx context.Context, instanceID string, descriptor *types.WorkloadDescriptor, rootKey []byte, ownerPubkey ed25519.PublicKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cipherDir, mountPoint := d.paths(instanceID)

	if err := MountEncrypted(ctx, rootKey, cipherDir, mountPoint); err != nil {
		return tdxerr.Wrap("workload.configure", tdxerr.MountFailed, err)
	}

	containerID, err := d.runtime.CreateContainer(instanceID, descriptor, mountPoint, "/data")
	if err != nil {
		_ = UnmountEncrypted(ctx, mountPoint)
		return tdxerr.Wrap("workload.configure", tdxerr.LaunchFailed, err)
	}

	if err := d.runtime.StartContainer(containerID); err != nil {
		_ = d.runtime.RemoveContainer(containerID)
		_ = UnmountEncrypted(ctx, mountPoint)
		return tdxerr.Wrap("workload.configure", tdxerr.LaunchFailed, err)
	}

	if err := d.runtime.waitRunning(containerID, launchWaitTimeout); err != nil {
		_ = d.runtime.StopContainer(containerID, 5)
		_ = d.runtime.RemoveContainer(containerID)
		_ = UnmountEncrypted(ctx, mountPoint)
		return tdxerr.Wrap("workload.configure", tdxerr.LaunchFailed, err)
	}

	if err := RunBootstrapHook(ctx, d.bootstrap, descriptor.Env); err != nil {
		_ = d.runtime.StopContainer(containerID, 5)
		_ = d.runtime.RemoveContainer(containerID)
		_ = UnmountEncrypted(ctx, mountPoint)
		return tdxerr.Wrap("workload.configure", tdxerr.LaunchFailed, err)
	}

	listener, err := StartSSHListener(d.sshAddr, ownerPubkey)
	if err != nil {
		_ = d.runtime.StopContainer(containerID, 5)
		_ = d.runtime.RemoveContainer(containerID)
		_ = UnmountEncrypted(ctx, mountPoint)
		return tdxerr.Wrap("workload.configure", tdxerr.LaunchFailed, err)
	}

	d.containerID = containerID
	d.sshListener = listener
	return nil
}

// ExposeWorkload stops the SSH listener and marks the workload port
// routable, per spec.md §4.1's expose_workload and invariant I4. Actual
// host-level routing is the out-of-scope HTTP/network transport glue
// (spec.md §1) - this records intent by ensuring the listener is closed.
func (d *Driver) ExposeWorkload(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sshListener == nil {
		return tdxerr.New("workload.expose", tdxerr.ShutdownFailed)
	}
	if err := d.sshListener.Close(); err != nil {
		return tdxerr.Wrap("workload.expose", tdxerr.ShutdownFailed, err)
	}
	d.sshListener = nil
	return nil
}

// Teardown stops and removes the workload container and unmounts its
// volume, used both to undo a configure_workload that launched
// successfully but could not be persisted, and during start-up
// reconciliation to tear down an orphan left by a crash between launch
// and ledger persistence (spec.md §8 scenario 5). Container removal is
// addressed by instanceID (the name CreateContainer gave it), not the
// in-memory containerID, since a freshly started Driver doing
// reconciliation never had that field populated. Removal and unmount
// failures are logged and treated as best-effort: the container or mount
// may simply not exist yet, which is the common case on a clean restart.
func (d *Driver) Teardown(ctx context.Context, instanceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, mountPoint := d.paths(instanceID)
	logger := log.WithComponent("workload")

	if d.sshListener != nil {
		if err := d.sshListener.Close(); err != nil {
			logger.Warn().Err(err).Str("instance", instanceID).Msg("teardown: close ssh listener failed")
		}
		d.sshListener = nil
	}

	if err := d.runtime.StopContainer(instanceID, 5); err != nil {
		logger.Debug().Err(err).Str("instance", instanceID).Msg("teardown: stop container failed (may not exist)")
	}
	if err := d.runtime.RemoveContainer(instanceID); err != nil {
		logger.Debug().Err(err).Str("instance", instanceID).Msg("teardown: remove container failed (may not exist)")
	}
	d.containerID = ""

	if err := UnmountEncrypted(ctx, mountPoint); err != nil {
		logger.Debug().Err(err).Str("instance", instanceID).Msg("teardown: unmount volume failed (may not be mounted)")
	}
	return nil
}

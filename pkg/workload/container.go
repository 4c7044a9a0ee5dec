// Package workload drives the three external collaborators the instance
// state machine commands on each transition: the container runtime, the
// encrypted-volume mount, and the owner-facing SSH listener. None of these
// hold a back-reference to the state machine - they are driven purely
// through the Driver's method calls (spec.md §9's "cyclic ownership is
// avoided by making the state machine the sole owner").
package workload

import (
	"context"
	"fmt"
	"time"

	"github.com/containers/podman/v5/pkg/bindings"
	"github.com/containers/podman/v5/pkg/bindings/containers"
	"github.com/containers/podman/v5/pkg/specgen"
	ocispec "github.com/opencontainers/runtime-spec/specs-go"
	nettypes "go.podman.io/common/libnetwork/types"

	"github.com/confidentio/tdxid/pkg/types"
)

const launchWaitTimeout = 10 * time.Second

// PodmanRuntime launches and supervises the workload container via the
// podman REST API bindings, adapted from the teacher's ContainerdRuntime
// method shape (pkg/runtime/containerd.go) onto podman's connection-context
// idiom instead of a containerd client handle.
type PodmanRuntime struct {
	conn context.Context
}

// NewPodmanRuntime connects to the podman socket (e.g.
// "unix:///run/podman/podman.sock").
func NewPodmanRuntime(ctx context.Context, socketPath string) (*PodmanRuntime, error) {
	conn, err := bindings.NewConnection(ctx, socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to podman socket %s: %w", socketPath, err)
	}
	return &PodmanRuntime{conn: conn}, nil
}

// CreateContainer builds a SpecGenerator from descriptor and the already
// prepared volume mount, and creates (but does not start) the container.
func (r *PodmanRuntime) CreateContainer(name string, descriptor *types.WorkloadDescriptor, volumeMountPath, containerMountPath string) (string, error) {
	spec := specgen.NewSpecGenerator(descriptor.ImageReference, false)
	spec.Name = name
	if len(descriptor.Command) > 0 {
		spec.Command = descriptor.Command
	}
	if len(descriptor.Env) > 0 {
		spec.Env = descriptor.Env
	}
	spec.PortMappings = []nettypes.PortMapping{
		{
			ContainerPort: uint16(descriptor.ExposedPort.ContainerPort),
			HostPort:      uint16(descriptor.ExposedPort.HostPort),
			Protocol:      descriptor.ExposedPort.Protocol,
		},
	}
	spec.Mounts = []ocispec.Mount{{
		Source:      volumeMountPath,
		Destination: containerMountPath,
		Type:        "bind",
		Options:     []string{"bind", "rw"},
	}}

	resp, err := containers.CreateWithSpec(r.conn, spec, nil)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", name, err)
	}
	return resp.ID, nil
}

// StartContainer starts a previously created container.
func (r *PodmanRuntime) StartContainer(id string) error {
	if err := containers.Start(r.conn, id, nil); err != nil {
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

// StopContainer stops id, waiting up to timeout seconds.
func (r *PodmanRuntime) StopContainer(id string, timeoutSeconds uint) error {
	opts := &containers.StopOptions{Timeout: &timeoutSeconds}
	if err := containers.Stop(r.conn, id, opts); err != nil {
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return nil
}

// RemoveContainer force-removes id, tearing down an orphan left by a
// crash between launch and ledger persistence (spec.md §8 scenario 5).
func (r *PodmanRuntime) RemoveContainer(id string) error {
	force := true
	opts := &containers.RemoveOptions{Force: &force}
	if _, err := containers.Remove(r.conn, id, opts); err != nil {
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}

// IsRunning reports whether id is currently in the running state.
func (r *PodmanRuntime) IsRunning(id string) (bool, error) {
	data, err := containers.Inspect(r.conn, id, nil)
	if err != nil {
		return false, fmt.Errorf("inspect container %s: %w", id, err)
	}
	if data.State == nil {
		return false, nil
	}
	return data.State.Running, nil
}

// GetContainerStatus returns the raw status string podman reports (e.g.
// "running", "exited").
func (r *PodmanRuntime) GetContainerStatus(id string) (string, error) {
	data, err := containers.Inspect(r.conn, id, nil)
	if err != nil {
		return "", fmt.Errorf("inspect container %s: %w", id, err)
	}
	if data.State == nil {
		return "", nil
	}
	return data.State.Status, nil
}

// waitRunning polls until the container reports running or timeout
// elapses, giving CreateContainer+StartContainer a single observable
// success condition per spec.md §4.6 ("success only when the underlying
// action is observable").
func (r *PodmanRuntime) waitRunning(id string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		running, err := r.IsRunning(id)
		if err != nil {
			return err
		}
		if running {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("container %s did not reach running state within %s", id, timeout)
}

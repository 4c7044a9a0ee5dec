// Package types holds the data model shared across the identity service,
// the registry service, and the crypto/workload plumbing that binds them.
package types

import "time"

// State is one of the five points in the instance's delegation lifecycle.
// States are ordered and monotonic: a Machine never moves backwards and
// never skips a state.
type State string

const (
	Fresh              State = "fresh"
	OperatorRegistered State = "operator_registered"
	OwnerRegistered    State = "owner_registered"
	WorkloadConfigured State = "workload_configured"
	WorkloadExposed    State = "workload_exposed"
)

// order gives every state its position in the progression, used both to
// validate the "required predecessor" rule and to reject out-of-order or
// replayed requests with WrongState.
var order = map[State]int{
	Fresh:              0,
	OperatorRegistered: 1,
	OwnerRegistered:    2,
	WorkloadConfigured: 3,
	WorkloadExposed:    4,
}

// Valid reports whether s is one of the five known states.
func (s State) Valid() bool {
	_, ok := order[s]
	return ok
}

// Next returns the state that directly follows s.
func (s State) Next() State {
	switch s {
	case Fresh:
		return OperatorRegistered
	case OperatorRegistered:
		return OwnerRegistered
	case OwnerRegistered:
		return WorkloadConfigured
	case WorkloadConfigured:
		return WorkloadExposed
	default:
		return s
	}
}

// Before reports whether s precedes other in the progression.
func (s State) Before(other State) bool {
	return order[s] < order[other]
}

// OperatorRecord is present from OperatorRegistered onward.
type OperatorRecord struct {
	OperatorPubkey []byte `json:"operator_pubkey"`
	// OwnerToken is the one-shot secret derived from OperatorPubkey and the
	// instance private key. It is stored here only so a restart can return
	// the same value if asked again before OwnerRegistered is reached; it
	// is never written in a form recoverable without the instance key.
	OwnerToken []byte `json:"owner_token"`
}

// OwnerRecord is present from OwnerRegistered onward.
type OwnerRecord struct {
	OwnerPubkey []byte `json:"owner_pubkey"`
}

// PortMapping binds a container-internal port to the host port the
// workload is exposed on.
type PortMapping struct {
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol"` // "tcp" or "udp"
}

// WorkloadDescriptor is present from WorkloadConfigured onward. It is
// supplied by the owner and is never mutated once set.
type WorkloadDescriptor struct {
	ImageReference string            `json:"image_reference"`
	Command        []string          `json:"command,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	ExposedPort    PortMapping       `json:"exposed_port"`

	// VolumeKeyMaterial is owner-supplied entropy the encrypted volume's
	// root key is derived from (see pkg/keys.DeriveVolumeRootKey). It is
	// part of the signed descriptor expose_workload re-hashes against, so
	// it is persisted with the rest of the record (storage.WriteRecord),
	// protected only by that file's 0600 permissions - not separately
	// encrypted at rest. The derived root key itself is handed to
	// gocryptfs over stdin and never touches disk in any form.
	VolumeKeyMaterial []byte `json:"volume_key_material"`
}

// Record is the full persisted state of the identity side: the current
// State plus every record committed so far. Fields are populated
// incrementally as the Machine advances; a field's zero value means "not
// yet committed" and is valid whenever the current State precedes the
// transition that would populate it.
type Record struct {
	State    State               `json:"state"`
	Operator *OperatorRecord     `json:"operator,omitempty"`
	Owner    *OwnerRecord        `json:"owner,omitempty"`
	Workload *WorkloadDescriptor `json:"workload,omitempty"`
}

// LedgerEntry is the registry-side record, keyed by InstancePubkey.
type LedgerEntry struct {
	InstancePubkey []byte    `json:"instance_pubkey"`
	Quote          []byte    `json:"quote"`
	OperatorPubkey []byte    `json:"operator_pubkey,omitempty"`
	OwnerPubkey    []byte    `json:"owner_pubkey,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

package identity

import (
	"sort"

	"github.com/confidentio/tdxid/pkg/signing"
	"github.com/confidentio/tdxid/pkg/types"
)

// canonicalDescriptor builds the deterministic byte serialization of a
// WorkloadDescriptor that configure_workload's and expose_workload's
// signatures are computed over. Map iteration order is not deterministic
// in Go, so Env keys are sorted before being folded in.
func canonicalDescriptor(d *types.WorkloadDescriptor) []byte {
	b := &signing.Builder{}
	b.Field([]byte(d.ImageReference))

	for _, c := range d.Command {
		b.Field([]byte(c))
	}

	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.Field([]byte(k))
		b.Field([]byte(d.Env[k]))
	}

	b.Field(portBytes(d.ExposedPort))
	b.Field(d.VolumeKeyMaterial)

	return b.Bytes()
}

func portBytes(p types.PortMapping) []byte {
	buf := make([]byte, 0, 16)
	buf = appendInt(buf, p.ContainerPort)
	buf = appendInt(buf, p.HostPort)
	buf = append(buf, []byte(p.Protocol)...)
	return buf
}

func appendInt(buf []byte, v int) []byte {
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[i] = byte(v >> (8 * (7 - i)))
	}
	return append(buf, tmp[:]...)
}

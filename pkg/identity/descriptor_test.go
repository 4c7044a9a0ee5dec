package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confidentio/tdxid/pkg/types"
)

func TestCanonicalDescriptorDeterministic(t *testing.T) {
	d := &types.WorkloadDescriptor{
		ImageReference: "alpine",
		Command:        []string{"sh", "-c", "true"},
		Env:            map[string]string{"B": "2", "A": "1"},
		ExposedPort:    types.PortMapping{ContainerPort: 8080, HostPort: 8080, Protocol: "tcp"},
	}
	a := canonicalDescriptor(d)
	b := canonicalDescriptor(d)
	require.Equal(t, a, b)
}

func TestCanonicalDescriptorEnvOrderIndependent(t *testing.T) {
	d1 := &types.WorkloadDescriptor{
		ImageReference: "alpine",
		Env:            map[string]string{"A": "1", "B": "2"},
	}
	d2 := &types.WorkloadDescriptor{
		ImageReference: "alpine",
		Env:            map[string]string{"B": "2", "A": "1"},
	}
	require.Equal(t, canonicalDescriptor(d1), canonicalDescriptor(d2))
}

func TestCanonicalDescriptorSensitiveToImage(t *testing.T) {
	d1 := &types.WorkloadDescriptor{ImageReference: "alpine"}
	d2 := &types.WorkloadDescriptor{ImageReference: "debian"}
	require.NotEqual(t, canonicalDescriptor(d1), canonicalDescriptor(d2))
}

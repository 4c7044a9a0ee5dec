// Package attestation constructs report-data payloads, requests TDX
// quotes over them, verifies received quotes against a root of trust, and
// extracts the encrypted PPID from a quote's PCK certificate chain.
//
// Quote generation is delegated to one of two Providers selected once at
// start-up by configuration (the hardware TDX guest device, or a mock
// HTTP endpoint for testing) - this is the capability-set substitute for
// dynamic dispatch over a "TDX backend" referenced in the source design.
package attestation

import (
	"context"
	"fmt"

	"github.com/confidentio/tdxid/pkg/tdxerr"
)

// ReportDataSize is the fixed size of a TDX report-data buffer.
const ReportDataSize = 64

// Quote is an opaque attestation blob produced by trusted hardware (or a
// mock) over a 64-byte report-data payload.
type Quote []byte

// ReportData builds the canonical, injective 64-byte report-data payload
// for pubkey: the key bytes at offset 0, zero-padded to ReportDataSize.
// The same construction runs on both the instance and the registry side,
// so verification is a recompute-and-compare, never a stored value.
func ReportData(pubkey []byte) ([ReportDataSize]byte, error) {
	var out [ReportDataSize]byte
	if len(pubkey) > ReportDataSize {
		return out, fmt.Errorf("attestation: pubkey longer than report-data buffer (%d > %d)", len(pubkey), ReportDataSize)
	}
	copy(out[:], pubkey)
	return out, nil
}

// Provider is the capability set a TDX backend exposes: requesting a
// quote over caller-supplied report data. Exactly two variants exist,
// selected once at start-up - see NewHardwareProvider and NewMockProvider.
type Provider interface {
	Quote(ctx context.Context, reportData [ReportDataSize]byte) (Quote, error)
}

// Policy controls which checks Verify performs. CRL and collateral
// checks are independently toggleable per spec: a caller running against
// a mock device disables both; production enables both.
type Policy struct {
	CheckRevocations bool
	FetchCollateral  bool
	PCCSURL          string
}

// Verify reports nil iff quote is well-formed, chains to the configured
// root of trust under policy, and its embedded report-data equals
// expected byte-for-byte. Any failure collapses to AttestationRejected.
func Verify(ctx context.Context, quote Quote, expected [ReportDataSize]byte, policy Policy) error {
	parsed, err := parseQuote(quote)
	if err != nil {
		return tdxerr.Wrap("attestation.verify", tdxerr.AttestationRejected, err)
	}

	if err := verifyChain(ctx, parsed, policy); err != nil {
		return tdxerr.Wrap("attestation.verify", tdxerr.AttestationRejected, err)
	}

	if err := validateReportData(parsed, expected); err != nil {
		return tdxerr.Wrap("attestation.verify", tdxerr.AttestationRejected, err)
	}

	return nil
}

// ErrUnsupportedChainType is returned by ExtractEncryptedPPID when the
// quote's PCK certificate chain is a type-5 (bare concatenated PEM, no
// discrete PPID field) chain. Extracting a PPID from that shape requires
// parsing the leaf certificate's SGX extension OIDs, which this system
// does not implement - the gap is surfaced explicitly rather than
// guessed at.
var ErrUnsupportedChainType = fmt.Errorf("attestation: PPID extraction unsupported for PCK chain type 5")

// ExtractEncryptedPPID returns the encrypted platform provisioning ID
// embedded in quote's PCK certificate chain.
func ExtractEncryptedPPID(quote Quote) ([]byte, error) {
	parsed, err := parseQuote(quote)
	if err != nil {
		return nil, fmt.Errorf("attestation: parse quote: %w", err)
	}
	return extractPPID(parsed)
}

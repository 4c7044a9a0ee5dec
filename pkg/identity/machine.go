// Package identity implements the instance side of the delegation
// protocol: the five-state Machine that gates register_operator,
// register_owner, configure_workload, and expose_workload, and exposes
// the pure get_instance_pubkey read.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/confidentio/tdxid/pkg/attestation"
	"github.com/confidentio/tdxid/pkg/keys"
	"github.com/confidentio/tdxid/pkg/log"
	"github.com/confidentio/tdxid/pkg/metrics"
	"github.com/confidentio/tdxid/pkg/registryclient"
	"github.com/confidentio/tdxid/pkg/signing"
	"github.com/confidentio/tdxid/pkg/storage"
	"github.com/confidentio/tdxid/pkg/tdxerr"
	"github.com/confidentio/tdxid/pkg/types"
	"github.com/confidentio/tdxid/pkg/workload"
)

// Machine is the sole owner of the instance's persisted record, private
// key, registry client, workload driver, and attestation provider. Every
// transition runs under mu, covering the full check-verify-apply-persist
// region spec.md §5 requires to be atomic with respect to persisted state.
type Machine struct {
	mu sync.Mutex

	record *types.Record
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey

	store    *storage.IdentityStore
	registry *registryclient.Client
	driver   *workload.Driver
	attester attestation.Provider
	policy   attestation.Policy
}

// Config wires a Machine's collaborators.
type Config struct {
	Store    *storage.IdentityStore
	Registry *registryclient.Client
	Driver   *workload.Driver
	Attester attestation.Provider
	Policy   attestation.Policy
}

// New boots a Machine: if no instance key is persisted, one is generated
// and the machine starts Fresh; otherwise the persisted record is adopted
// verbatim with no transition re-run (spec.md §4.1's cold-boot rule).
func New(cfg Config) (*Machine, error) {
	m := &Machine{
		store:    cfg.Store,
		registry: cfg.Registry,
		driver:   cfg.Driver,
		attester: cfg.Attester,
		policy:   cfg.Policy,
	}

	if !cfg.Store.HasInstanceKey() {
		pub, priv, err := keys.GenerateInstanceKey()
		if err != nil {
			return nil, fmt.Errorf("generate instance key: %w", err)
		}
		if err := cfg.Store.WriteInstanceKey(priv); err != nil {
			return nil, fmt.Errorf("persist instance key: %w", err)
		}
		m.priv = priv
		m.pub = pub
		m.record = &types.Record{State: types.Fresh}
		if err := cfg.Store.WriteRecord(m.record); err != nil {
			return nil, fmt.Errorf("persist initial record: %w", err)
		}
	} else {
		priv, err := cfg.Store.ReadInstanceKey()
		if err != nil {
			return nil, fmt.Errorf("load instance key: %w", err)
		}
		m.priv = priv
		m.pub = priv.Public().(ed25519.PublicKey)

		rec, err := cfg.Store.ReadRecord()
		if err != nil {
			return nil, fmt.Errorf("load identity record: %w", err)
		}
		m.record = rec
	}

	metrics.CurrentState.Reset()
	metrics.CurrentState.WithLabelValues(string(m.record.State)).Set(1)
	return m, nil
}

// GetInstancePubkey returns the instance's stable identifier. Pure and
// lock-free, per spec.md §5.
func (m *Machine) GetInstancePubkey() []byte {
	return m.pub
}

func (m *Machine) logger() zerolog.Logger {
	return log.WithInstance(hex.EncodeToString(m.pub))
}

// RegisterOperator implements spec.md §4.1's register_operator edge.
func (m *Machine) RegisterOperator(ctx context.Context, operatorPubkey, sigByOperator []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	const edge = "register_operator"
	logger := m.logger()

	if m.record.State != types.Fresh {
		m.transitionFailed(edge, tdxerr.WrongState)
		return nil, tdxerr.New("identity."+edge, tdxerr.WrongState)
	}

	payload := signing.NewPayload(signing.DomainRegisterOperator, m.pub).Field(operatorPubkey).Bytes()
	if err := signing.Verify("identity."+edge, operatorPubkey, payload, sigByOperator); err != nil {
		m.transitionFailed(edge, tdxerr.BadSignature)
		return nil, err
	}

	ownerToken, err := keys.DeriveOwnerToken(m.priv, operatorPubkey)
	if err != nil {
		m.transitionFailed(edge, tdxerr.ConfigInvalid)
		return nil, tdxerr.Wrap("identity."+edge, tdxerr.ConfigInvalid, err)
	}

	quote, err := m.requestQuote(ctx)
	if err != nil {
		m.transitionFailed(edge, tdxerr.AttestationRejected)
		return nil, err
	}

	regPayload := signing.NewPayload(signing.DomainLedgerRegister, m.pub).
		Field(quote).
		Field(operatorPubkey).
		Bytes()
	regSig := signing.Sign(m.priv, regPayload)

	if err := m.registry.Register(ctx, m.pub, quote, operatorPubkey, regSig); err != nil {
		m.transitionFailed(edge, tdxerr.LedgerUnavailable)
		return nil, err
	}

	next := &types.Record{
		State:    types.OperatorRegistered,
		Operator: &types.OperatorRecord{OperatorPubkey: operatorPubkey, OwnerToken: ownerToken},
	}
	if err := m.store.WriteRecord(next); err != nil {
		return nil, fmt.Errorf("identity.%s: persist record: %w", edge, err)
	}
	m.record = next
	m.transitionOK(edge)
	logger.Info().Str("edge", edge).Str("state", string(m.record.State)).Msg("transition accepted")

	return ownerToken, nil
}

// RegisterOwner implements spec.md §4.1's register_owner edge.
func (m *Machine) RegisterOwner(ctx context.Context, ownerPubkey, ownerToken, sigByOwner []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	const edge = "register_owner"
	logger := m.logger()

	if m.record.State != types.OperatorRegistered {
		m.transitionFailed(edge, tdxerr.WrongState)
		return tdxerr.New("identity."+edge, tdxerr.WrongState)
	}

	if subtle.ConstantTimeCompare(ownerToken, m.record.Operator.OwnerToken) != 1 {
		m.transitionFailed(edge, tdxerr.BadToken)
		return tdxerr.New("identity."+edge, tdxerr.BadToken)
	}

	payload := signing.NewPayload(signing.DomainRegisterOwner, m.pub).Field(ownerPubkey).Bytes()
	if err := signing.Verify("identity."+edge, ownerPubkey, payload, sigByOwner); err != nil {
		m.transitionFailed(edge, tdxerr.BadSignature)
		return err
	}

	attachPayload := signing.NewPayload(signing.DomainLedgerAttachOwner, m.pub).Field(ownerPubkey).Bytes()
	attachSig := signing.Sign(m.priv, attachPayload)
	if err := m.registry.AttachOwner(ctx, m.pub, ownerPubkey, attachSig); err != nil {
		m.transitionFailed(edge, tdxerr.LedgerUnavailable)
		return err
	}

	next := &types.Record{
		State:    types.OwnerRegistered,
		Operator: m.record.Operator,
		Owner:    &types.OwnerRecord{OwnerPubkey: ownerPubkey},
	}
	if err := m.store.WriteRecord(next); err != nil {
		return fmt.Errorf("identity.%s: persist record: %w", edge, err)
	}
	m.record = next
	m.transitionOK(edge)
	logger.Info().Str("edge", edge).Str("state", string(m.record.State)).Msg("transition accepted")
	return nil
}

// ConfigureWorkload implements spec.md §4.1's configure_workload edge.
func (m *Machine) ConfigureWorkload(ctx context.Context, descriptor *types.WorkloadDescriptor, sigByOwner []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	const edge = "configure_workload"
	logger := m.logger()

	if m.record.State != types.OwnerRegistered {
		m.transitionFailed(edge, tdxerr.WrongState)
		return tdxerr.New("identity."+edge, tdxerr.WrongState)
	}

	ownerPubkey := m.record.Owner.OwnerPubkey
	payload := signing.NewPayload(signing.DomainConfigureWorkload, m.pub).Field(canonicalDescriptor(descriptor)).Bytes()
	if err := signing.Verify("identity."+edge, ownerPubkey, payload, sigByOwner); err != nil {
		m.transitionFailed(edge, tdxerr.BadSignature)
		return err
	}

	rootKey, err := keys.DeriveVolumeRootKey(descriptor.VolumeKeyMaterial)
	if err != nil {
		m.transitionFailed(edge, tdxerr.ConfigInvalid)
		return tdxerr.Wrap("identity."+edge, tdxerr.ConfigInvalid, err)
	}

	timer := metrics.NewTimer()
	err = m.driver.ConfigureWorkload(ctx, hex.EncodeToString(m.pub), descriptor, rootKey, ed25519.PublicKey(ownerPubkey))
	timer.ObserveDurationVec(metrics.WorkloadOperationDuration, "configure")
	if err != nil {
		kind, ok := tdxerr.KindOf(err)
		if !ok {
			kind = tdxerr.LaunchFailed
		}
		m.transitionFailed(edge, kind)
		return err
	}

	next := &types.Record{
		State:    types.WorkloadConfigured,
		Operator: m.record.Operator,
		Owner:    m.record.Owner,
		Workload: descriptor,
	}
	if err := m.store.WriteRecord(next); err != nil {
		if tdErr := m.driver.Teardown(ctx, hex.EncodeToString(m.pub)); tdErr != nil {
			logger.Error().Err(tdErr).Str("edge", edge).Msg("rollback after failed persist also failed")
		}
		m.transitionFailed(edge, tdxerr.Corruption)
		return fmt.Errorf("identity.%s: persist record: %w", edge, err)
	}
	m.record = next
	m.transitionOK(edge)
	logger.Info().Str("edge", edge).Str("state", string(m.record.State)).Msg("transition accepted")
	return nil
}

// ExposeWorkload implements spec.md §4.1's expose_workload edge.
func (m *Machine) ExposeWorkload(ctx context.Context, sigByOwner []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	const edge = "expose_workload"
	logger := m.logger()

	if m.record.State != types.WorkloadConfigured {
		m.transitionFailed(edge, tdxerr.WrongState)
		return tdxerr.New("identity."+edge, tdxerr.WrongState)
	}

	ownerPubkey := m.record.Owner.OwnerPubkey
	descriptorHash := sha256.Sum256(canonicalDescriptor(m.record.Workload))
	payload := signing.NewPayload(signing.DomainExposeWorkload, m.pub).
		Field([]byte("expose")).
		Field(descriptorHash[:]).
		Bytes()
	if err := signing.Verify("identity."+edge, ownerPubkey, payload, sigByOwner); err != nil {
		m.transitionFailed(edge, tdxerr.BadSignature)
		return err
	}

	timer := metrics.NewTimer()
	err := m.driver.ExposeWorkload(ctx)
	timer.ObserveDurationVec(metrics.WorkloadOperationDuration, "expose")
	if err != nil {
		m.transitionFailed(edge, tdxerr.ShutdownFailed)
		return err
	}

	next := &types.Record{
		State:    types.WorkloadExposed,
		Operator: m.record.Operator,
		Owner:    m.record.Owner,
		Workload: m.record.Workload,
	}
	if err := m.store.WriteRecord(next); err != nil {
		return fmt.Errorf("identity.%s: persist record: %w", edge, err)
	}
	m.record = next
	m.transitionOK(edge)
	logger.Info().Str("edge", edge).Str("state", string(m.record.State)).Msg("transition accepted")
	return nil
}

func (m *Machine) requestQuote(ctx context.Context) ([]byte, error) {
	reportData, err := attestation.ReportData(m.pub)
	if err != nil {
		return nil, tdxerr.Wrap("identity.request_quote", tdxerr.ConfigInvalid, err)
	}
	timer := metrics.NewTimer()
	quote, err := m.attester.Quote(ctx, reportData)
	timer.ObserveDurationVec(metrics.AttestationDuration, "quote")
	if err != nil {
		return nil, tdxerr.Wrap("identity.request_quote", tdxerr.AttestationRejected, err)
	}
	return quote, nil
}

func (m *Machine) transitionOK(edge string) {
	metrics.TransitionsTotal.WithLabelValues(edge, "ok").Inc()
	metrics.CurrentState.Reset()
	metrics.CurrentState.WithLabelValues(string(m.record.State)).Set(1)
}

func (m *Machine) transitionFailed(edge string, kind tdxerr.Kind) {
	metrics.TransitionsTotal.WithLabelValues(edge, string(kind)).Inc()
}

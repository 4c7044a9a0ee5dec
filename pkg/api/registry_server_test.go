package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/confidentio/tdxid/pkg/registry"
	"github.com/confidentio/tdxid/pkg/signing"
	"github.com/confidentio/tdxid/pkg/storage"
)

func newTestRegistryServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := storage.NewLedgerStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ledger := registry.New(store, registry.Config{SkipTDXAuth: true})
	return httptest.NewServer(NewRegistryServer(ledger).mux)
}

func TestRegistryServerRegisterAndLookup(t *testing.T) {
	srv := newTestRegistryServer(t)
	defer srv.Close()

	instancePub, instancePriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	quote := []byte("quote-bytes")
	operatorPub := []byte("operator-pub")

	payload := signing.NewPayload(signing.DomainLedgerRegister, instancePub).
		Field(quote).
		Field(operatorPub).
		Bytes()
	sig := signing.Sign(instancePriv, payload)

	body, err := json.Marshal(registerRequest{
		InstancePubkey: instancePub,
		Quote:          quote,
		OperatorPubkey: operatorPub,
		Signature:      sig,
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(fmt.Sprintf("%s/instance/%x", srv.URL, instancePub))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegistryServerLookupMissingIs404(t *testing.T) {
	srv := newTestRegistryServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/instance/" + "deadbeef")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegistryServerRegisterBadSignatureIs401(t *testing.T) {
	srv := newTestRegistryServer(t)
	defer srv.Close()

	instancePub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	quote := []byte("quote-bytes")
	operatorPub := []byte("operator-pub")
	payload := signing.NewPayload(signing.DomainLedgerRegister, instancePub).
		Field(quote).
		Field(operatorPub).
		Bytes()
	sig := signing.Sign(otherPriv, payload)

	body, err := json.Marshal(registerRequest{
		InstancePubkey: instancePub,
		Quote:          quote,
		OperatorPubkey: operatorPub,
		Signature:      sig,
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

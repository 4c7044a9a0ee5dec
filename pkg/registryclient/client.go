// Package registryclient is the identity service's HTTP client for the
// Registration Ledger, grounded in the teacher's pkg/client shape (a thin
// wrapper struct, bounded-timeout context.Context per call) but over
// plain HTTP/JSON rather than gRPC+mTLS, matching this component's
// external interface (spec.md §6).
package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/confidentio/tdxid/pkg/tdxerr"
	"github.com/confidentio/tdxid/pkg/types"
)

const defaultTimeout = 10 * time.Second

// Client wraps calls to the registry service's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client targeting baseURL (e.g. "http://localhost:3000").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

type registerRequest struct {
	InstancePubkey []byte `json:"instance_pubkey"`
	Quote          []byte `json:"quote"`
	OperatorPubkey []byte `json:"operator_pubkey"`
	Signature      []byte `json:"signature"`
}

// Register calls POST /register on the registry service.
func (c *Client) Register(ctx context.Context, instancePubkey, quote, operatorPubkey, sig []byte) error {
	req := registerRequest{
		InstancePubkey: instancePubkey,
		Quote:          quote,
		OperatorPubkey: operatorPubkey,
		Signature:      sig,
	}
	return c.post(ctx, "/register", req, nil)
}

type attachOwnerRequest struct {
	InstancePubkey []byte `json:"instance_pubkey"`
	OwnerPubkey    []byte `json:"owner_pubkey"`
	Signature      []byte `json:"signature"`
}

// AttachOwner calls POST /instance/{pubkey}/owner on the registry
// service - the HTTP-side counterpart to Ledger.AttachOwner.
func (c *Client) AttachOwner(ctx context.Context, instancePubkey, ownerPubkey, sig []byte) error {
	req := attachOwnerRequest{
		InstancePubkey: instancePubkey,
		OwnerPubkey:    ownerPubkey,
		Signature:      sig,
	}
	path := fmt.Sprintf("/instance/%x/owner", instancePubkey)
	return c.post(ctx, path, req, nil)
}

// Lookup calls GET /instance/{pubkey} on the registry service.
func (c *Client) Lookup(ctx context.Context, instancePubkey []byte) (*types.LedgerEntry, error) {
	url := fmt.Sprintf("%s/instance/%x", c.baseURL, instancePubkey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, tdxerr.Wrap("registryclient.lookup", tdxerr.LedgerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, tdxerr.New("registryclient.lookup", tdxerr.NotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, tdxerr.Wrap("registryclient.lookup", tdxerr.LedgerUnavailable, statusError(resp))
	}

	var entry types.LedgerEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, tdxerr.Wrap("registryclient.lookup", tdxerr.LedgerUnavailable, err)
	}
	return &entry, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return tdxerr.Wrap("registryclient."+path, tdxerr.LedgerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tdxerr.Wrap("registryclient."+path, statusToKind(resp.StatusCode), statusError(resp))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func statusToKind(code int) tdxerr.Kind {
	switch code {
	case http.StatusConflict:
		return tdxerr.Conflict
	case http.StatusNotFound:
		return tdxerr.NotFound
	case http.StatusForbidden:
		return tdxerr.AttestationRejected
	case http.StatusUnauthorized:
		return tdxerr.BadSignature
	default:
		return tdxerr.LedgerUnavailable
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("registry responded %d: %s", resp.StatusCode, string(body))
}

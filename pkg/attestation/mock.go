package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/confidentio/tdxid/pkg/tdxerr"
)

// mockRequest/mockResponse are the wire shapes for the mock TDX endpoint:
// POST the report data, get back a pre-canned quote. Selected purely by
// configuration (MOCK_TDX_URL set) - never by a code path inside the core.
type mockRequest struct {
	ReportData []byte `json:"report_data"`
}

type mockResponse struct {
	Quote []byte `json:"quote"`
}

type mockProvider struct {
	url    string
	client *http.Client
}

// NewMockProvider returns a Provider that requests quotes from a mock TDX
// HTTP endpoint, for CI and local development (spec §4.3, §6).
func NewMockProvider(url string) Provider {
	return &mockProvider{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *mockProvider) Quote(ctx context.Context, reportData [ReportDataSize]byte) (Quote, error) {
	body, err := json.Marshal(mockRequest{ReportData: reportData[:]})
	if err != nil {
		return nil, fmt.Errorf("mock attestation: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mock attestation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, tdxerr.Wrap("attestation.mock_quote", tdxerr.AttestationRejected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, tdxerr.New("attestation.mock_quote", tdxerr.AttestationRejected)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mock attestation: read response: %w", err)
	}

	var out mockResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("mock attestation: decode response: %w", err)
	}

	return Quote(out.Quote), nil
}

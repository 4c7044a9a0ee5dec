package attestation

import (
	"testing"

	tdxproto "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/stretchr/testify/require"
)

func TestReportDataInjectiveAndPadded(t *testing.T) {
	a, err := ReportData([]byte("pubkey-a"))
	require.NoError(t, err)
	b, err := ReportData([]byte("pubkey-b"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	require.Equal(t, byte(0), a[len(a)-1], "must be zero-padded")
	require.Equal(t, []byte("pubkey-a"), a[:len("pubkey-a")])
}

func TestReportDataRejectsOversizedKey(t *testing.T) {
	oversized := make([]byte, ReportDataSize+1)
	_, err := ReportData(oversized)
	require.Error(t, err)
}

func TestReportDataDeterministic(t *testing.T) {
	pubkey := []byte("stable-pubkey")
	a, err := ReportData(pubkey)
	require.NoError(t, err)
	b, err := ReportData(pubkey)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func quoteWithCertData(certType int32, data []byte) *parsedQuote {
	return &parsedQuote{
		proto: &tdxproto.QuoteV4{
			SignedData: &tdxproto.Ecdsa256BitQuoteV4AuthData{
				CertificationData: &tdxproto.CertificationData{
					CertificateDataType: certType,
					CertificateData:     data,
				},
			},
		},
	}
}

func TestExtractPPIDType1Through4(t *testing.T) {
	ppid := make([]byte, 16)
	for i := range ppid {
		ppid[i] = byte(i)
	}
	rest := []byte("cert-chain-bytes-follow-the-ppid-header")
	data := append(append([]byte{}, ppid...), rest...)

	for _, chainType := range []int32{1, 2, 3, 4} {
		q := quoteWithCertData(chainType, data)
		got, err := extractPPID(q)
		require.NoError(t, err)
		require.Equal(t, ppid, got)
	}
}

func TestExtractPPIDType5Unsupported(t *testing.T) {
	q := quoteWithCertData(5, []byte("-----BEGIN CERTIFICATE-----..."))
	_, err := extractPPID(q)
	require.ErrorIs(t, err, ErrUnsupportedChainType)
}

func TestExtractPPIDUnknownType(t *testing.T) {
	q := quoteWithCertData(99, []byte("whatever"))
	_, err := extractPPID(q)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnsupportedChainType)
}

package auth

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassphrase(t *testing.T) {
	cases := []struct {
		name string
		pw   string
		want string // substring of the expected error, empty for ok
	}{
		{"valid", "Tr0ub4dour&Horse", ""},
		{"too short", "Ab1!", "at least 12"},
		{"no uppercase", "trouble4dour&horse", "uppercase"},
		{"no lowercase", "TROUBLE4DOUR&HORSE", "lowercase"},
		{"no digit", "Troubledour&Horse", "digit"},
		{"no special", "Tr0ub4dourHorse", "special"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePassphrase(tc.pw)
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidatePassphraseAdvancedScoring(t *testing.T) {
	opts := DefaultValidateOptions()

	// Dictionary word with the usual suffix decoration scores poorly.
	err := ValidatePassphraseAdvanced(context.Background(), "Password123!", opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guessable")

	// High-entropy passphrase passes.
	err = ValidatePassphraseAdvanced(context.Background(), "mV9#tQz!pL2&wXr7", opts)
	assert.NoError(t, err)
}

// roundTripFunc lets tests stub the HIBP endpoint without network access.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func withHIBPResponse(t *testing.T, status int, body string) {
	t.Helper()
	prev := hibpHTTPClient
	hibpHTTPClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{},
			Request:    r,
		}, nil
	})}
	t.Cleanup(func() { hibpHTTPClient = prev })
}

func TestCheckHIBPFound(t *testing.T) {
	// SHA1("password") = 5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8, so the
	// range query sends prefix 5BAA6 and matches on the 35-char suffix.
	withHIBPResponse(t, http.StatusOK,
		"0018A45C4D1DEF81644B54AB7F969B88D65:1\r\n"+
			"1E4C9B93F3F0682250B6CF8331B7EE68FD8:3730471\r\n")

	res, err := CheckHIBP(context.Background(), "password")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, 3730471, res.Count)
}

func TestCheckHIBPNotFound(t *testing.T) {
	withHIBPResponse(t, http.StatusOK, "0018A45C4D1DEF81644B54AB7F969B88D65:1\r\n")

	res, err := CheckHIBP(context.Background(), "password")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Zero(t, res.Count)
}

func TestCheckHIBPIgnoresPaddingEntries(t *testing.T) {
	// Padded responses list the real suffix with a zero count when it only
	// exists as padding; such entries must not count as a breach hit.
	withHIBPResponse(t, http.StatusOK,
		"0018A45C4D1DEF81644B54AB7F969B88D65:1\r\n"+
			"1E4C9B93F3F0682250B6CF8331B7EE68FD8:0\r\n")

	res, err := CheckHIBP(context.Background(), "password")
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestCheckHIBPRateLimited(t *testing.T) {
	prev := hibpHTTPClient
	hibpHTTPClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Status:     http.StatusText(http.StatusTooManyRequests),
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     http.Header{"Retry-After": []string{"2"}},
			Request:    r,
		}, nil
	})}
	t.Cleanup(func() { hibpHTTPClient = prev })

	_, err := CheckHIBP(context.Background(), "password")
	require.ErrorIs(t, err, ErrHIBPRateLimited)
	assert.Contains(t, err.Error(), "2s")
}

func TestCheckHIBPServerError(t *testing.T) {
	withHIBPResponse(t, http.StatusServiceUnavailable, "")

	_, err := CheckHIBP(context.Background(), "password")
	require.Error(t, err)
}

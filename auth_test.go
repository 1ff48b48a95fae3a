// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"net/http"
	"testing"

	sweep_testing "github.com/noi-techpark/go-sweep/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicAuthenticator(t *testing.T) {
	config := AuthenticatorConfig{
		Type:     "basic",
		Username: "testuser",
		Password: "testpass",
	}

	auth, err := NewAuthenticator(config, nil, nil)
	require.NoError(t, err)
	req, _ := http.NewRequest("GET", "https://example.com", nil)

	err = auth.PrepareRequest(req)
	require.Nil(t, err)

	username, password, ok := req.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "testuser", username)
	assert.Equal(t, "testpass", password)
}

func TestBearerAuthenticator(t *testing.T) {
	config := AuthenticatorConfig{
		Type:  "bearer",
		Token: "my-secret-token",
	}

	auth, err := NewAuthenticator(config, nil, nil)
	require.NoError(t, err)
	req, _ := http.NewRequest("GET", "https://example.com", nil)

	err = auth.PrepareRequest(req)
	require.Nil(t, err)

	assert.Equal(t, "Bearer my-secret-token", req.Header.Get("Authorization"))
}

func TestNoopAuthenticator(t *testing.T) {
	for _, typ := range []string{"", "none"} {
		auth, err := NewAuthenticator(AuthenticatorConfig{Type: typ}, nil, nil)
		require.NoError(t, err)
		req, _ := http.NewRequest("GET", "https://example.com", nil)

		require.Nil(t, auth.PrepareRequest(req))
		assert.Empty(t, req.Header.Get("Authorization"))
	}
}

func TestOAuthPasswordAuthenticator(t *testing.T) {
	mockTransport := sweep_testing.NewMockRoundTripperWithResponse(map[string]any{
		"https://auth.example.com/token": map[string]any{
			"access_token": "password-token-123456",
			"token_type":   "bearer",
			"expires_in":   3600,
		},
	})

	config := AuthenticatorConfig{
		Type:     "oauth",
		Username: "user",
		Password: "secret",
		OAuthConfig: OAuthConfig{
			Method:       "password",
			TokenURL:     "https://auth.example.com/token",
			ClientID:     "client",
			ClientSecret: "client-secret",
		},
	}

	auth, err := NewAuthenticator(config, mockTransport.Client(), nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("GET", "https://api.example.com/data", nil)
		require.Nil(t, auth.PrepareRequest(req))
		assert.Equal(t, "Bearer password-token-123456", req.Header.Get("Authorization"))
	}

	assert.Equal(t, 1, mockTransport.Count(), "token is cached")
	assert.Empty(t, mockTransport.GetErrors())

	reqs := mockTransport.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, string(reqs[0].Body), "grant_type=password")
	assert.Contains(t, string(reqs[0].Body), "username=user")
}

func TestOAuthClientCredentialsAuthenticator(t *testing.T) {
	mockTransport := sweep_testing.NewMockRoundTripperWithResponse(map[string]any{
		"https://auth.example.com/token": map[string]any{
			"access_token": "client-token-abcdef",
			"token_type":   "bearer",
			"expires_in":   3600,
		},
	})

	config := AuthenticatorConfig{
		Type: "oauth",
		OAuthConfig: OAuthConfig{
			Method:       "client_credentials",
			TokenURL:     "https://auth.example.com/token",
			ClientID:     "client",
			ClientSecret: "client-secret",
			Scopes:       []string{"read"},
		},
	}

	auth, err := NewAuthenticator(config, mockTransport.Client(), nil)
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", "https://api.example.com/data", nil)
	require.Nil(t, auth.PrepareRequest(req))
	assert.Equal(t, "Bearer client-token-abcdef", req.Header.Get("Authorization"))

	reqs := mockTransport.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, string(reqs[0].Body), "grant_type=client_credentials")
}

func TestOAuthTokenFailure(t *testing.T) {
	// no expectation for the token URL, the mock answers 400
	mockTransport := sweep_testing.NewMockRoundTripperWithResponse(map[string]any{})

	auth, err := NewAuthenticator(AuthenticatorConfig{
		Type: "oauth",
		OAuthConfig: OAuthConfig{
			Method:   "client_credentials",
			TokenURL: "https://auth.example.com/token",
			ClientID: "client",
		},
	}, mockTransport.Client(), nil)
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", "https://api.example.com/data", nil)
	err = auth.PrepareRequest(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not get oauth token")
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestNewAuthenticatorErrors(t *testing.T) {
	_, err := NewAuthenticator(AuthenticatorConfig{Type: "digest"}, nil, nil)
	assert.Error(t, err)

	_, err = NewAuthenticator(AuthenticatorConfig{Type: "oauth", OAuthConfig: OAuthConfig{Method: "implicit"}}, nil, nil)
	assert.Error(t, err)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "***", maskToken("short"))
	assert.Equal(t, "abcd...wxyz", maskToken("abcdefghijklmnopqrstuvwxyz"))
}

// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Authenticator adds credentials to an outgoing request. Implementations
// must be safe for concurrent use by the batch workers.
type Authenticator interface {
	PrepareRequest(req *http.Request) error
}

type AuthenticatorConfig struct {
	Type string `yaml:"type,omitempty" json:"type,omitempty"` // basic | bearer | oauth

	// Basic auth, also used by the oauth password flow
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// Bearer auth
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	OAuthConfig `yaml:",inline" json:",inline"`
}

type OAuthConfig struct {
	Method       string   `yaml:"method,omitempty" json:"method,omitempty"` // password | client_credentials
	TokenURL     string   `yaml:"tokenUrl,omitempty" json:"tokenUrl,omitempty"`
	ClientID     string   `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	ClientSecret string   `yaml:"clientSecret,omitempty" json:"clientSecret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// NoopAuthenticator leaves requests untouched; credentials copied with the
// command (cookies, Authorization headers) already travel in the template.
type NoopAuthenticator struct{}

func (NoopAuthenticator) PrepareRequest(req *http.Request) error {
	return nil
}

// BasicAuthenticator - HTTP Basic Authentication
type BasicAuthenticator struct {
	username string
	password string
}

func (a *BasicAuthenticator) PrepareRequest(req *http.Request) error {
	req.SetBasicAuth(a.username, a.password)
	return nil
}

// BearerAuthenticator - static bearer token
type BearerAuthenticator struct {
	token string
}

func (a *BearerAuthenticator) PrepareRequest(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+a.token)
	return nil
}

// OAuthAuthenticator fetches a token once and reuses it until it expires.
type OAuthAuthenticator struct {
	conf        *oauth2.Config
	clientCreds *clientcredentials.Config
	token       *oauth2.Token
	mu          sync.Mutex
	username    string
	password    string
	method      string
	httpClient  *http.Client
	logger      Logger
}

func (a *OAuthAuthenticator) PrepareRequest(req *http.Request) error {
	token, err := a.GetToken(req.Context())
	if err != nil {
		return fmt.Errorf("could not get oauth token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// GetToken returns a valid access token, logging in when none is cached.
func (a *OAuthAuthenticator) GetToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != nil && a.token.Valid() {
		return a.token.AccessToken, nil
	}

	// token fetches outlive the triggering request
	tokenCtx := context.WithoutCancel(ctx)
	if a.httpClient != nil {
		tokenCtx = context.WithValue(tokenCtx, oauth2.HTTPClient, a.httpClient)
	}

	var token *oauth2.Token
	var err error
	if a.conf != nil {
		token, err = a.conf.PasswordCredentialsToken(tokenCtx, a.username, a.password)
	} else {
		token, err = a.clientCreds.Token(tokenCtx)
	}
	if err != nil {
		return "", err
	}
	a.logger.Debug("[Auth] obtained %s token %s", a.method, maskToken(token.AccessToken))
	a.token = token
	return token.AccessToken, nil
}

// maskToken masks a token for display, showing only first and last 4 characters
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// NewAuthenticator builds the authenticator for config. httpClient is used
// for token requests when it is an *http.Client.
func NewAuthenticator(config AuthenticatorConfig, httpClient HTTPClient, logger Logger) (Authenticator, error) {
	if logger == nil {
		logger = NewNoopLogger()
	}
	switch config.Type {
	case "", "none":
		return NoopAuthenticator{}, nil
	case "basic":
		return &BasicAuthenticator{username: config.Username, password: config.Password}, nil
	case "bearer":
		return &BearerAuthenticator{token: config.Token}, nil
	case "oauth":
		auth := &OAuthAuthenticator{
			username: config.Username,
			password: config.Password,
			method:   config.Method,
			logger:   logger,
		}
		if c, ok := httpClient.(*http.Client); ok {
			auth.httpClient = c
		}
		switch config.Method {
		case "password":
			auth.conf = &oauth2.Config{
				ClientID:     config.ClientID,
				ClientSecret: config.ClientSecret,
				Endpoint:     oauth2.Endpoint{TokenURL: config.TokenURL},
				Scopes:       config.Scopes,
			}
		case "client_credentials":
			auth.clientCreds = &clientcredentials.Config{
				ClientID:     config.ClientID,
				ClientSecret: config.ClientSecret,
				TokenURL:     config.TokenURL,
				Scopes:       config.Scopes,
			}
		default:
			return nil, fmt.Errorf("unsupported oauth method: %s", config.Method)
		}
		return auth, nil
	default:
		return nil, fmt.Errorf("unsupported auth type: %s", config.Type)
	}
}

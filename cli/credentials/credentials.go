/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package credentials gathers the broker token, endpoints and client
// certificate from the environment and an optional ~/.dactl file.
package credentials

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/UnifyEM/diragent/common/certstore"
)

// EnvFile is read from the home directory. Variables already set in the
// environment take precedence.
const EnvFile = ".dactl"

//goland:noinspection ALL
const (
	EnvBroker      = "DACTL_BROKER"
	EnvToken       = "DACTL_TOKEN"
	EnvAgent       = "DACTL_AGENT"
	EnvCAFile      = "DACTL_CA_FILE"
	EnvCertFile    = "DACTL_CERT_FILE"
	EnvKeyFile     = "DACTL_KEY_FILE"
	EnvPFXFile     = "DACTL_PFX_FILE"
	EnvPFXPassword = "DACTL_PFX_PASSWORD"
)

// PromptFunc asks the operator for a secret
type PromptFunc func(label string) (string, error)

type Credentials struct {
	BrokerURL   string
	Token       string
	AgentURL    string
	CAFile      string
	CertFile    string
	KeyFile     string
	PFXFile     string
	PFXPassword string
}

// Load reads ~/.dactl if present and then the environment
func Load() Credentials {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return LoadFrom(filepath.Join(homeDir, EnvFile))
	}
	return FromEnv()
}

// LoadFrom reads the named env file if it exists and then the environment
func LoadFrom(path string) Credentials {
	_ = godotenv.Load(path)
	return FromEnv()
}

// FromEnv reads the DACTL_* variables
func FromEnv() Credentials {
	return Credentials{
		BrokerURL:   os.Getenv(EnvBroker),
		Token:       os.Getenv(EnvToken),
		AgentURL:    os.Getenv(EnvAgent),
		CAFile:      os.Getenv(EnvCAFile),
		CertFile:    os.Getenv(EnvCertFile),
		KeyFile:     os.Getenv(EnvKeyFile),
		PFXFile:     os.Getenv(EnvPFXFile),
		PFXPassword: os.Getenv(EnvPFXPassword),
	}
}

// RequireBroker checks that broker commands can run
func (c Credentials) RequireBroker() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("%s is not set", EnvBroker)
	}
	if c.Token == "" {
		return fmt.Errorf("%s is not set", EnvToken)
	}
	return nil
}

// HasIdentity reports whether a client certificate is configured
func (c Credentials) HasIdentity() bool {
	return c.PFXFile != "" || (c.CertFile != "" && c.KeyFile != "")
}

// Identity loads the client certificate. A PFX without a configured
// password is unlocked with prompt.
func (c Credentials) Identity(prompt PromptFunc) (*certstore.Identity, error) {
	if !c.HasIdentity() {
		return nil, fmt.Errorf("set %s or %s and %s", EnvPFXFile, EnvCertFile, EnvKeyFile)
	}

	password := c.PFXPassword
	if c.PFXFile != "" && password == "" && prompt != nil {
		var err error
		if password, err = prompt("PFX password: "); err != nil {
			return nil, err
		}
	}

	id, err := certstore.Load(c.CertFile, c.KeyFile, c.PFXFile, password)
	if err != nil {
		return nil, fmt.Errorf("client certificate: %w", err)
	}
	if err = id.Check(); err != nil {
		return nil, fmt.Errorf("client certificate: %w", err)
	}
	return id, nil
}

// TLSConfig trusts CAFile when set, otherwise the system roots, and
// presents id when it is not nil
func (c Credentials) TLSConfig(id *certstore.Identity) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.CAFile != "" {
		pool, err := certstore.LoadPool(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("CA file: %w", err)
		}
		cfg.RootCAs = pool
	}
	if id != nil {
		cfg.Certificates = []tls.Certificate{id.TLS()}
	}
	return cfg, nil
}

// TerminalPrompt reads a secret from the terminal without echo
func TerminalPrompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available to prompt for a password")
	}

	fmt.Fprint(os.Stderr, label)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

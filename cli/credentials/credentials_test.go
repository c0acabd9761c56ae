/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnifyEM/diragent/common/testcert"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvBroker, EnvToken, EnvAgent, EnvCAFile, EnvCertFile, EnvKeyFile, EnvPFXFile, EnvPFXPassword} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadFrom(t *testing.T) {
	clearEnv(t)
	file := filepath.Join(t.TempDir(), EnvFile)
	doc := EnvBroker + "=https://broker:8444\n" + EnvToken + "=file-token\n" + EnvAgent + "=https://dc01:8443\n"
	require.NoError(t, os.WriteFile(file, []byte(doc), 0600))

	// The environment wins over the file
	t.Setenv(EnvToken, "env-token")

	c := LoadFrom(file)
	assert.Equal(t, "https://broker:8444", c.BrokerURL)
	assert.Equal(t, "env-token", c.Token)
	assert.Equal(t, "https://dc01:8443", c.AgentURL)
	assert.NoError(t, c.RequireBroker())
	assert.False(t, c.HasIdentity())

	// A missing file is not an error
	clearEnv(t)
	c = LoadFrom(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, c.RequireBroker())
}

func TestIdentity(t *testing.T) {
	ca, err := testcert.NewCA("ops")
	require.NoError(t, err)
	pair, err := ca.Issue(testcert.LeafOptions{CommonName: "operator", Client: true})
	require.NoError(t, err)

	dir := t.TempDir()
	certFile, keyFile, err := pair.WriteFiles(dir, "operator")
	require.NoError(t, err)
	caFile, _, err := ca.Pair.WriteFiles(dir, "ca")
	require.NoError(t, err)

	c := Credentials{CertFile: certFile, KeyFile: keyFile, CAFile: caFile}
	require.True(t, c.HasIdentity())

	id, err := c.Identity(nil)
	require.NoError(t, err)
	assert.Equal(t, "operator", id.Cert.Subject.CommonName)

	cfg, err := c.TLSConfig(id)
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.NotNil(t, cfg.RootCAs)

	_, err = Credentials{}.Identity(nil)
	assert.Error(t, err)

	_, err = Credentials{CAFile: filepath.Join(dir, "missing.pem")}.TLSConfig(nil)
	assert.Error(t, err)
}

func TestIdentityPromptsForPFXPassword(t *testing.T) {
	prompted := false
	c := Credentials{PFXFile: filepath.Join(t.TempDir(), "client.pfx")}
	_, err := c.Identity(func(string) (string, error) {
		prompted = true
		return "", errors.New("no terminal")
	})
	assert.True(t, prompted)
	assert.ErrorContains(t, err, "no terminal")

	// A configured password skips the prompt
	c.PFXPassword = "secret"
	_, err = c.Identity(func(string) (string, error) {
		t.Fatal("unexpected prompt")
		return "", nil
	})
	assert.Error(t, err, "the file does not exist")
}

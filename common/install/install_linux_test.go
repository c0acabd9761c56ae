//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

//go:build linux

package install

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
	fail  map[string]error
}

func (r *recorder) run(name string, args ...string) error {
	call := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, call)
	return r.fail[call]
}

func newInstaller(t *testing.T, r *recorder) (*Installer, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, servicePath), 0755))
	i, err := New(
		WithName("diragent"),
		WithDescription("Directory Inventory Agent"),
		WithArgs("serve", "--config", "/etc/dir agent/diragent.yaml"),
		WithRoot(root),
		WithRunner(r.run),
		WithOutput(io.Discard))
	require.NoError(t, err)
	return i, root
}

func TestNewValidation(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
	_, err = New(WithName("bad/name"))
	assert.Error(t, err)
	_, err = New(WithName("ok"), WithRunner(nil))
	assert.Error(t, err)
}

func TestUnit(t *testing.T) {
	i, _ := newInstaller(t, &recorder{})
	unit, err := i.Unit()
	require.NoError(t, err)
	assert.Contains(t, unit, "Description=Directory Inventory Agent\n")
	assert.Contains(t, unit, `ExecStart=/usr/local/bin/diragent serve --config "/etc/dir agent/diragent.yaml"`)
}

func TestInstallAndUninstall(t *testing.T) {
	r := &recorder{}
	i, root := newInstaller(t, r)

	require.NoError(t, i.Install())
	assert.FileExists(t, filepath.Join(root, binaryPath, "diragent"))
	assert.FileExists(t, filepath.Join(root, servicePath, "diragent.service"))
	assert.Equal(t, []string{
		"systemctl daemon-reload",
		"systemctl enable diragent",
		"systemctl start diragent",
	}, r.calls)

	r.calls = nil
	require.NoError(t, i.Uninstall())
	assert.NoFileExists(t, filepath.Join(root, binaryPath, "diragent"))
	assert.NoFileExists(t, filepath.Join(root, servicePath, "diragent.service"))
	assert.Equal(t, []string{
		"systemctl stop diragent",
		"systemctl disable diragent",
		"systemctl daemon-reload",
	}, r.calls)

	assert.Error(t, i.Uninstall())
}

func TestInstallFailures(t *testing.T) {
	r := &recorder{fail: map[string]error{
		"systemctl enable diragent": errors.New("enable failed"),
		"systemctl start diragent":  errors.New("start failed"),
	}}
	i, _ := newInstaller(t, r)
	err := i.Install()
	assert.ErrorContains(t, err, "start failed")

	noSystemd, err := New(WithName("diragent"), WithRoot(t.TempDir()), WithRunner(r.run), WithOutput(nil))
	require.NoError(t, err)
	assert.ErrorContains(t, noSystemd.Install(), "systemd")
}

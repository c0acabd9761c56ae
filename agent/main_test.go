/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceMode(t *testing.T) {
	t.Cleanup(func() { configFile = "" })

	assert.Equal(t, modeServe, serviceMode(nil))
	assert.Equal(t, "", configFile)

	assert.Equal(t, modeBroker, serviceMode([]string{"broker", "--config", "/etc/diragent.yaml"}))
	assert.Equal(t, "/etc/diragent.yaml", configFile)

	assert.Equal(t, modeServe, serviceMode([]string{"serve", "-c", "other.yaml"}))
	assert.Equal(t, "other.yaml", configFile)
}

func TestSetupCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCommand().Commands() {
		names[c.Name()] = true
	}
	for _, n := range []string{"serve", "broker", "check-config", "thumbprint", "version", "install", "uninstall", "upgrade"} {
		assert.True(t, names[n], n)
	}
}

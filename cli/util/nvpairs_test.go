//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNVPairs(t *testing.T) {
	p := NewNVPairs([]string{"agent_id=dc01", "state=Created", "junk", "=x", "url=a=b"})
	assert.Equal(t, map[string]string{
		"agent_id": "dc01",
		"state":    "Created",
		"url":      "a=b",
	}, p.ToMap())
}

func TestParseParameters(t *testing.T) {
	params, err := ParseParameters([]string{"Filter=Staff", " Limit =10", "Empty="})
	require.NoError(t, err)
	assert.Equal(t, "Staff", params.Value("filter"))
	assert.Equal(t, "10", params.Value("LIMIT"))
	assert.True(t, params.Has("empty"))

	_, err = ParseParameters([]string{"Filter"})
	assert.Error(t, err)

	_, err = ParseParameters([]string{"Filter=a", "filter=b"})
	assert.Error(t, err)

	params, err = ParseParameters(nil)
	require.NoError(t, err)
	assert.Empty(t, params)
}

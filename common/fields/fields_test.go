/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package fields

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToText(t *testing.T) {
	f := NewFields(
		NewField("listen", ":8443"),
		NewField("error", errors.New("connection refused")),
		NewField("empty", ""),
		NewField("timeout", 2*time.Second))
	f.AppendKV("count", 3)
	f.AppendMapString(map[string]string{"b": "2", "a": "x=y"})

	assert.Equal(t, `listen=:8443 error="connection refused" empty="" timeout=2s count=3 a="x=y" b=2`, f.ToText())

	var nilFields *Fields
	assert.Empty(t, nilFields.ToText())
	assert.Nil(t, nilFields.ToPairs())
}

func TestLookup(t *testing.T) {
	f := NewFields(NewField("k", 1), NewField("k", 2))
	v, ok := f.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, f.ToMap()["k"])

	_, ok = f.Get("missing")
	assert.False(t, ok)
	assert.Len(t, f.ToPairs(), 2)
}

//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// See LICENSE file for details
//

package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBanner(t *testing.T) {
	var buf bytes.Buffer
	Banner(&buf, "dactl")
	assert.Contains(t, buf.String(), "dactl version "+Version)
	assert.Contains(t, buf.String(), "Apache License")
}

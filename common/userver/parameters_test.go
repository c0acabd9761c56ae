/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package userver

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryInt(t *testing.T) {
	n, err := QueryInt(httptest.NewRequest("GET", "/x", nil), "limit", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = QueryInt(httptest.NewRequest("GET", "/x?limit=3", nil), "limit", 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, q := range []string{"-1", "ten"} {
		_, err = QueryInt(httptest.NewRequest("GET", "/x?limit="+q, nil), "limit", 0)
		assert.ErrorContains(t, err, "limit", q)
	}
}

func TestReadBody(t *testing.T) {
	b, err := ReadBody(httptest.NewRequest("POST", "/x", strings.NewReader("12345")), 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(b))

	_, err = ReadBody(httptest.NewRequest("POST", "/x", strings.NewReader("123456")), 5)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestPathParam(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest("GET", "/jobs/abc", nil), map[string]string{"id": "abc"})
	assert.Equal(t, "abc", PathParam(req, "id"))
	assert.Empty(t, PathParam(req, "missing"))
}

/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package rows

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnifyEM/diragent/common/schema"
)

func TestFlattenNil(t *testing.T) {
	out, v, err := FlattenVariant(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, VariantNone, v)

	var users *[]schema.UserRecord
	out, err = Flatten(users)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFlattenDictionary(t *testing.T) {
	out, v, err := FlattenVariant(map[string]int{"users": 3, "groups": 2})
	require.NoError(t, err)
	assert.Equal(t, VariantDictionary, v)
	require.Len(t, out, 1)
	assert.Equal(t, schema.Row{"users": 3, "groups": 2}, out[0])
}

func TestFlattenList(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	payload := []schema.UserRecord{
		{SamAccountName: "alice", Enabled: true, WhenCreated: &created},
		{SamAccountName: "bob"},
	}

	out, v, err := FlattenVariant(payload)
	require.NoError(t, err)
	assert.Equal(t, VariantList, v)
	require.Len(t, out, 2)

	assert.Equal(t, "alice", out[0]["SamAccountName"])
	assert.Equal(t, true, out[0]["Enabled"])
	assert.Equal(t, created, out[0]["WhenCreated"])
	assert.Nil(t, out[1]["WhenCreated"])
	assert.Contains(t, out[1], "DistinguishedName")
}

func TestFlattenScalarList(t *testing.T) {
	out, err := Flatten([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []schema.Row{{"Value": "a"}, {"Value": "b"}}, out)
}

func TestFlattenSingleListField(t *testing.T) {
	type wrapper struct {
		Records []schema.DNSRecord `json:"records"`
		hidden  int
	}
	payload := wrapper{Records: []schema.DNSRecord{
		{Zone: "corp.example", Name: "dc01", Type: "A", Data: "10.0.0.1"},
	}}

	out, v, err := FlattenVariant(&payload)
	require.NoError(t, err)
	assert.Equal(t, VariantSingleListField, v)
	require.Len(t, out, 1)
	assert.Equal(t, "dc01", out[0]["HostName"])
	assert.Equal(t, "A", out[0]["RecordType"])
}

func TestFlattenObject(t *testing.T) {
	type base struct {
		Agent string `json:"Agent"`
	}
	type status struct {
		base
		Count  int      `json:"count,omitempty"`
		Names  []string `json:"names"`
		Secret string   `json:"-"`
		Plain  string
	}

	out, v, err := FlattenVariant(status{base: base{Agent: "a1"}, Count: 2, Names: []string{"x"}, Secret: "s", Plain: "p"})
	require.NoError(t, err)
	assert.Equal(t, VariantObject, v)
	require.Len(t, out, 1)
	assert.Equal(t, schema.Row{"Agent": "a1", "count": 2, "names": []string{"x"}, "Plain": "p"}, out[0])
}

func TestFlattenScalar(t *testing.T) {
	ts := time.Unix(0, 0).UTC()
	out, err := Flatten(ts)
	require.NoError(t, err)
	assert.Equal(t, []schema.Row{{"Value": ts}}, out)
}

func TestFlattenUnsupported(t *testing.T) {
	_, err := Flatten(make(chan int))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Flatten([]func(){func() {}})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestColumns(t *testing.T) {
	cols := Columns([]schema.Row{{"b": 1, "a": 2}, {"c": 3, "a": 4}})
	assert.Equal(t, []string{"a", "b", "c"}, cols)
}

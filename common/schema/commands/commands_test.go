/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/UnifyEM/diragent/common/schema"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     string
		params  schema.Parameters
		wantErr bool
	}{
		{"no params", GetUsers, nil, false},
		{"optional param", GetUsers, schema.Parameters{"IncludeDisabled": "false"}, false},
		{"case-insensitive names", "getusers", schema.Parameters{"includedisabled": "true"}, false},
		{"unknown param", GetUsers, schema.Parameters{"Password": "x"}, true},
		{"missing required", GetGroupMembers, schema.Parameters{}, true},
		{"empty required", GetGroupMembers, schema.Parameters{"Group": ""}, true},
		{"required present", GetGroupMembers, schema.Parameters{"group": "Admins"}, false},
		{"duplicate by case", GetUsers, schema.Parameters{"NameLike": "a", "namelike": "b"}, true},
		{"unknown action", "DropTables", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cmd, tt.params)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLookupAndNames(t *testing.T) {
	c, ok := Lookup("GETDNSRECORDS")
	assert.True(t, ok)
	assert.Equal(t, GetDNSRecords, c.Name)
	assert.True(t, c.IsFilter("zone"))
	assert.False(t, c.IsBool("zone"))

	names := Names()
	assert.Contains(t, names, Ping)
	assert.Contains(t, names, RunScript)
	assert.Len(t, names, 9)
}

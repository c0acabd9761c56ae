/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package commands defines the action names understood by the agent and the
// parameter names each action accepts. It is shared by the agent, the broker,
// and the CLI so that all three reject the same malformed requests.
package commands

import (
	"sort"

	"github.com/UnifyEM/diragent/common/schema"
)

type Command struct {
	Name         string   // Canonical action name
	RequiredArgs []string // Required parameters
	OptionalArgs []string // Optional parameters
	BoolArgs     []string // Parameters that must parse as booleans
	FilterArgs   []string // Parameters that reach an LDAP filter
}

type Commands struct {
	Commands map[string]Command // keyed by folded name
}

// Action names
const (
	GetUsers        = "GetUsers"
	GetGroups       = "GetGroups"
	GetGroupMembers = "GetGroupMembers"
	GetComputers    = "GetComputers"
	GetGPOs         = "GetGPOs"
	GetDNSZones     = "GetDNSZones"
	GetDNSRecords   = "GetDNSRecords"
	RunScript       = "RunScript"
	Ping            = "Ping"
)

// Parameter names
const (
	ArgIncludeDisabled = "IncludeDisabled"
	ArgNameLike        = "NameLike"
	ArgFilter          = "Filter"
	ArgSearchBase      = "SearchBase"
	ArgMaxResults      = "MaxResults"
	ArgGroup           = "Group"
	ArgRecursive       = "Recursive"
	ArgZone            = "Zone"
	ArgScript          = "Script"
	ArgArguments       = "Arguments"
)

var cmds Commands

func init() {
	list := []Command{
		{
			Name:         GetUsers,
			OptionalArgs: []string{ArgIncludeDisabled, ArgNameLike, ArgFilter, ArgSearchBase, ArgMaxResults},
			BoolArgs:     []string{ArgIncludeDisabled},
			FilterArgs:   []string{ArgNameLike, ArgFilter},
		},
		{
			Name:         GetGroups,
			OptionalArgs: []string{ArgNameLike, ArgFilter, ArgSearchBase, ArgMaxResults},
			FilterArgs:   []string{ArgNameLike, ArgFilter},
		},
		{
			Name:         GetGroupMembers,
			RequiredArgs: []string{ArgGroup},
			OptionalArgs: []string{ArgRecursive, ArgMaxResults},
			BoolArgs:     []string{ArgRecursive},
			FilterArgs:   []string{ArgGroup},
		},
		{
			Name:         GetComputers,
			OptionalArgs: []string{ArgIncludeDisabled, ArgNameLike, ArgFilter, ArgSearchBase, ArgMaxResults},
			BoolArgs:     []string{ArgIncludeDisabled},
			FilterArgs:   []string{ArgNameLike, ArgFilter},
		},
		{
			Name:         GetGPOs,
			OptionalArgs: []string{ArgNameLike, ArgMaxResults},
			FilterArgs:   []string{ArgNameLike},
		},
		{
			Name:         GetDNSZones,
			OptionalArgs: []string{ArgNameLike},
			FilterArgs:   []string{ArgNameLike},
		},
		{
			Name:         GetDNSRecords,
			RequiredArgs: []string{ArgZone},
			OptionalArgs: []string{ArgNameLike, ArgMaxResults},
			FilterArgs:   []string{ArgZone, ArgNameLike},
		},
		{
			Name:         RunScript,
			RequiredArgs: []string{ArgScript},
			OptionalArgs: []string{ArgArguments},
		},
		{
			Name: Ping,
		},
	}

	cmds = Commands{Commands: make(map[string]Command, len(list))}
	for _, c := range list {
		cmds.Commands[schema.FoldKey(c.Name)] = c
	}
}

// Lookup returns the command definition for name, case-insensitively
func Lookup(name string) (Command, bool) {
	c, ok := cmds.Commands[schema.FoldKey(name)]
	return c, ok
}

// Names returns every canonical action name, sorted
func Names() []string {
	names := make([]string, 0, len(cmds.Commands))
	for _, c := range cmds.Commands {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// IsBool reports whether arg is a boolean parameter of the command
func (c Command) IsBool(arg string) bool {
	return containsFold(c.BoolArgs, arg)
}

// IsFilter reports whether arg reaches an LDAP filter
func (c Command) IsFilter(arg string) bool {
	return containsFold(c.FilterArgs, arg)
}

func containsFold(list []string, arg string) bool {
	f := schema.FoldKey(arg)
	for _, a := range list {
		if schema.FoldKey(a) == f {
			return true
		}
	}
	return false
}

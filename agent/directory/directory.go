/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package directory provides read-only inventory queries against an Active
// Directory compatible service. Name patterns are validated by the caller
// and escaped again by the LDAP provider before they reach a filter.
package directory

import (
	"context"
	"errors"

	"github.com/UnifyEM/diragent/common/schema"
)

// ErrUnavailable wraps failures to reach or bind to the directory
var ErrUnavailable = errors.New("directory unavailable")

// ErrNotFound is returned when a named object such as a group or zone does not exist
var ErrNotFound = errors.New("directory object not found")

// Query narrows an enumeration
type Query struct {
	IncludeDisabled bool
	NameLike        string // wildcard pattern, '*' is the only metacharacter
	Filter          string // LDAP filter fragment accepted by CheckFilter, ANDed with the base filter
	SearchBase      string // overrides the configured base DN
	MaxResults      int    // 0 means the provider limit
}

// Directory is implemented by the LDAP provider and the in-memory provider
type Directory interface {
	Users(ctx context.Context, q Query) ([]schema.UserRecord, error)
	Groups(ctx context.Context, q Query) ([]schema.GroupRecord, error)
	GroupMembers(ctx context.Context, group string, recursive bool, maxResults int) ([]schema.GroupMemberRecord, error)
	Computers(ctx context.Context, q Query) ([]schema.ComputerRecord, error)
	GPOs(ctx context.Context, q Query) ([]schema.GPORecord, error)
	DNSZones(ctx context.Context, q Query) ([]schema.DNSZoneRecord, error)
	DNSRecords(ctx context.Context, zone string, q Query) ([]schema.DNSRecord, error)
}

// limit applies the smaller non-zero of the requested and provider maximums
func limit(requested, provider int) int {
	switch {
	case requested <= 0:
		return provider
	case provider <= 0:
		return requested
	case requested < provider:
		return requested
	default:
		return provider
	}
}

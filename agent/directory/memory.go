/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/UnifyEM/diragent/common/schema"
)

// Memory is a Directory backed by in-process slices. It serves tests and
// agents started without a directory_url. Query.Filter is not evaluated.
type Memory struct {
	mu        sync.RWMutex
	users     []schema.UserRecord
	groups    []schema.GroupRecord
	members   map[string][]schema.GroupMemberRecord
	computers []schema.ComputerRecord
	gpos      []schema.GPORecord
	zones     []schema.DNSZoneRecord
	records   map[string][]schema.DNSRecord
	delay     time.Duration
}

var _ Directory = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		members: make(map[string][]schema.GroupMemberRecord),
		records: make(map[string][]schema.DNSRecord),
	}
}

// SetDelay makes every query wait d or until its context ends
func (m *Memory) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

func (m *Memory) AddUsers(u ...schema.UserRecord) {
	m.mu.Lock()
	m.users = append(m.users, u...)
	m.mu.Unlock()
}

func (m *Memory) AddGroups(g ...schema.GroupRecord) {
	m.mu.Lock()
	m.groups = append(m.groups, g...)
	m.mu.Unlock()
}

func (m *Memory) AddGroupMembers(group string, members ...schema.GroupMemberRecord) {
	m.mu.Lock()
	key := strings.ToLower(group)
	m.members[key] = append(m.members[key], members...)
	m.mu.Unlock()
}

func (m *Memory) AddComputers(c ...schema.ComputerRecord) {
	m.mu.Lock()
	m.computers = append(m.computers, c...)
	m.mu.Unlock()
}

func (m *Memory) AddGPOs(g ...schema.GPORecord) {
	m.mu.Lock()
	m.gpos = append(m.gpos, g...)
	m.mu.Unlock()
}

func (m *Memory) AddDNSZones(z ...schema.DNSZoneRecord) {
	m.mu.Lock()
	m.zones = append(m.zones, z...)
	m.mu.Unlock()
}

func (m *Memory) AddDNSRecords(zone string, r ...schema.DNSRecord) {
	m.mu.Lock()
	key := strings.ToLower(zone)
	m.records[key] = append(m.records[key], r...)
	m.mu.Unlock()
}

func (m *Memory) wait(ctx context.Context) error {
	m.mu.RLock()
	d := m.delay
	m.mu.RUnlock()

	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// collect filters src with keep and stops after max items
func collect[T any](src []T, maxResults int, keep func(T) bool) []T {
	out := make([]T, 0)
	for _, item := range src {
		if !keep(item) {
			continue
		}
		out = append(out, item)
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
	}
	return out
}

func (m *Memory) Users(ctx context.Context, q Query) ([]schema.UserRecord, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return collect(m.users, q.MaxResults, func(u schema.UserRecord) bool {
		return (q.IncludeDisabled || u.Enabled) && Match(q.NameLike, u.SamAccountName)
	}), nil
}

func (m *Memory) Groups(ctx context.Context, q Query) ([]schema.GroupRecord, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return collect(m.groups, q.MaxResults, func(g schema.GroupRecord) bool {
		return Match(q.NameLike, g.Name)
	}), nil
}

func (m *Memory) GroupMembers(ctx context.Context, group string, recursive bool, maxResults int) ([]schema.GroupMemberRecord, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	direct, ok := m.members[strings.ToLower(group)]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", group, ErrNotFound)
	}
	if !recursive {
		return collect(direct, maxResults, func(schema.GroupMemberRecord) bool { return true }), nil
	}

	// Expand nested groups breadth first, each group at most once
	seen := map[string]bool{strings.ToLower(group): true}
	queue := append([]schema.GroupMemberRecord(nil), direct...)
	out := make([]schema.GroupMemberRecord, 0, len(queue))
	for len(queue) > 0 {
		member := queue[0]
		queue = queue[1:]
		out = append(out, member)
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
		key := strings.ToLower(member.SamAccountName)
		if member.ObjectClass == "group" && !seen[key] {
			seen[key] = true
			queue = append(queue, m.members[key]...)
		}
	}
	return out, nil
}

func (m *Memory) Computers(ctx context.Context, q Query) ([]schema.ComputerRecord, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return collect(m.computers, q.MaxResults, func(c schema.ComputerRecord) bool {
		return (q.IncludeDisabled || c.Enabled) && Match(q.NameLike, c.Name)
	}), nil
}

func (m *Memory) GPOs(ctx context.Context, q Query) ([]schema.GPORecord, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return collect(m.gpos, q.MaxResults, func(g schema.GPORecord) bool {
		return Match(q.NameLike, g.DisplayName)
	}), nil
}

func (m *Memory) DNSZones(ctx context.Context, q Query) ([]schema.DNSZoneRecord, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return collect(m.zones, q.MaxResults, func(z schema.DNSZoneRecord) bool {
		return Match(q.NameLike, z.Name)
	}), nil
}

func (m *Memory) DNSRecords(ctx context.Context, zone string, q Query) ([]schema.DNSRecord, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.records[strings.ToLower(zone)]
	if !ok {
		return nil, fmt.Errorf("zone %s: %w", zone, ErrNotFound)
	}
	return collect(records, q.MaxResults, func(r schema.DNSRecord) bool {
		return Match(q.NameLike, r.Name)
	}), nil
}

/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/UnifyEM/diragent/common/schema"
)

// Attribute and control values used by the LDAP provider
const (
	uacAccountDisable   = 0x2
	groupTypeGlobal     = 0x2
	groupTypeDomain     = 0x4
	groupTypeUniversal  = 0x8
	groupTypeSecurity   = 0x80000000
	matchingRuleInChain = "1.2.840.113556.1.4.1941"
	filetimeEpochDelta  = 116444736000000000 // 100ns intervals between 1601 and 1970
	generalizedTimeForm = "20060102150405.0Z0700"
)

// LDAPConfig locates and authenticates to the directory
type LDAPConfig struct {
	URL          string // ldap:// or ldaps://
	BaseDN       string // discovered from the RootDSE when empty
	BindDN       string // anonymous bind when empty
	BindPassword string
	Insecure     bool // skip TLS verification for ldaps://
	PageSize     int
	MaxResults   int
	Timeout      time.Duration
}

// LDAP is a Directory backed by an LDAP server. A connection is opened and
// bound per query and closed when the query or its context ends.
type LDAP struct {
	cfg LDAPConfig
}

var _ Directory = (*LDAP)(nil)

// NewLDAP validates the configuration. No connection is made until the first query.
func NewLDAP(cfg LDAPConfig) (*LDAP, error) {
	if cfg.URL == "" {
		return nil, errors.New("directory URL is required")
	}
	if !strings.HasPrefix(cfg.URL, "ldap://") && !strings.HasPrefix(cfg.URL, "ldaps://") {
		return nil, fmt.Errorf("unsupported directory URL: %s", cfg.URL)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &LDAP{cfg: cfg}, nil
}

// session is one bound connection
type session struct {
	conn   *ldap.Conn
	baseDN string
	stop   func() bool
}

func (l *LDAP) open(ctx context.Context) (*session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts []ldap.DialOpt
	if strings.HasPrefix(l.cfg.URL, "ldaps://") {
		//nolint:gosec // operator controlled for lab directories
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{
			InsecureSkipVerify: l.cfg.Insecure,
			MinVersion:         tls.VersionTLS12,
		}))
	}

	conn, err := ldap.DialURL(l.cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
	}
	conn.SetTimeout(l.cfg.Timeout)

	// Closing the connection aborts any search in flight
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	if l.cfg.BindDN != "" {
		if err = conn.Bind(l.cfg.BindDN, l.cfg.BindPassword); err != nil {
			stop()
			conn.Close()
			return nil, fmt.Errorf("%w: bind failed: %s", ErrUnavailable, err.Error())
		}
	}

	s := &session{conn: conn, baseDN: l.cfg.BaseDN, stop: stop}
	if s.baseDN == "" {
		if s.baseDN, err = s.defaultNamingContext(); err != nil {
			s.close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) close() {
	s.stop()
	s.conn.Close()
}

func (s *session) defaultNamingContext() (string, error) {
	req := ldap.NewSearchRequest("", ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", []string{"defaultNamingContext"}, nil)
	res, err := s.conn.Search(req)
	if err != nil {
		return "", fmt.Errorf("%w: RootDSE: %s", ErrUnavailable, err.Error())
	}
	if len(res.Entries) == 0 || res.Entries[0].GetAttributeValue("defaultNamingContext") == "" {
		return "", fmt.Errorf("%w: no defaultNamingContext", ErrUnavailable)
	}
	return res.Entries[0].GetAttributeValue("defaultNamingContext"), nil
}

// search runs a paged subtree search. A size limit hit returns the entries
// received so far.
func (l *LDAP) search(ctx context.Context, s *session, base string, scope int, filter string, attrs []string, maxResults int) ([]*ldap.Entry, error) {
	size := limit(maxResults, l.cfg.MaxResults)
	req := ldap.NewSearchRequest(base, scope, ldap.NeverDerefAliases, size, 0, false, filter, attrs, nil)

	res, err := s.conn.SearchWithPaging(req, uint32(l.cfg.PageSize))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && res != nil {
			return res.Entries, nil
		}
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, fmt.Errorf("%s: %w", base, ErrNotFound)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if size > 0 && len(res.Entries) > size {
		return res.Entries[:size], nil
	}
	return res.Entries, nil
}

// query opens a session, runs fn and closes the session
func query[T any](ctx context.Context, l *LDAP, fn func(*session) (T, error)) (T, error) {
	var zero T
	s, err := l.open(ctx)
	if err != nil {
		return zero, err
	}
	defer s.close()
	return fn(s)
}

// nameFilter builds (attr=pattern) from a wildcard pattern
func nameFilter(attr, pattern string) (string, error) {
	if pattern == "" {
		return "", nil
	}
	escaped, err := EscapeLike(pattern)
	if err != nil {
		return "", err
	}
	return "(" + attr + "=" + escaped + ")", nil
}

// baseFilter composes the object filter with the optional name and caller filter
func baseFilter(object, attr string, q Query, extra ...string) (string, error) {
	name, err := nameFilter(attr, q.NameLike)
	if err != nil {
		return "", err
	}
	filter, err := CheckFilter(q.Filter)
	if err != nil {
		return "", err
	}
	return and(append([]string{object, name, filter}, extra...)...), nil
}

func (s *session) base(q Query) string {
	if q.SearchBase != "" {
		return q.SearchBase
	}
	return s.baseDN
}

func (l *LDAP) Users(ctx context.Context, q Query) ([]schema.UserRecord, error) {
	var enabled string
	if !q.IncludeDisabled {
		enabled = "(!(userAccountControl:1.2.840.113556.1.4.803:=2))"
	}
	filter, err := baseFilter("(&(objectCategory=person)(objectClass=user))", "sAMAccountName", q, enabled)
	if err != nil {
		return nil, err
	}

	attrs := []string{"sAMAccountName", "displayName", "userPrincipalName", "mail",
		"userAccountControl", "lastLogonTimestamp", "whenCreated"}

	return query(ctx, l, func(s *session) ([]schema.UserRecord, error) {
		entries, err := l.search(ctx, s, s.base(q), ldap.ScopeWholeSubtree, filter, attrs, q.MaxResults)
		if err != nil {
			return nil, err
		}
		out := make([]schema.UserRecord, 0, len(entries))
		for _, e := range entries {
			out = append(out, schema.UserRecord{
				SamAccountName:    e.GetAttributeValue("sAMAccountName"),
				DisplayName:       e.GetAttributeValue("displayName"),
				UserPrincipalName: e.GetAttributeValue("userPrincipalName"),
				Mail:              e.GetAttributeValue("mail"),
				DistinguishedName: e.DN,
				Enabled:           accountEnabled(e.GetAttributeValue("userAccountControl")),
				LastLogon:         fileTime(e.GetAttributeValue("lastLogonTimestamp")),
				WhenCreated:       generalizedTime(e.GetAttributeValue("whenCreated")),
			})
		}
		return out, nil
	})
}

func (l *LDAP) Groups(ctx context.Context, q Query) ([]schema.GroupRecord, error) {
	filter, err := baseFilter("(objectClass=group)", "cn", q)
	if err != nil {
		return nil, err
	}

	attrs := []string{"cn", "sAMAccountName", "description", "groupType", "member"}

	return query(ctx, l, func(s *session) ([]schema.GroupRecord, error) {
		entries, err := l.search(ctx, s, s.base(q), ldap.ScopeWholeSubtree, filter, attrs, q.MaxResults)
		if err != nil {
			return nil, err
		}
		out := make([]schema.GroupRecord, 0, len(entries))
		for _, e := range entries {
			scope, security := groupKind(e.GetAttributeValue("groupType"))
			out = append(out, schema.GroupRecord{
				Name:              e.GetAttributeValue("cn"),
				SamAccountName:    e.GetAttributeValue("sAMAccountName"),
				Description:       e.GetAttributeValue("description"),
				DistinguishedName: e.DN,
				Scope:             scope,
				Security:          security,
				MemberCount:       len(e.GetAttributeValues("member")),
			})
		}
		return out, nil
	})
}

func (l *LDAP) GroupMembers(ctx context.Context, group string, recursive bool, maxResults int) ([]schema.GroupMemberRecord, error) {
	escaped, err := EscapeValue(group)
	if err != nil {
		return nil, err
	}

	return query(ctx, l, func(s *session) ([]schema.GroupMemberRecord, error) {
		groupFilter := "(&(objectClass=group)(|(sAMAccountName=" + escaped + ")(cn=" + escaped + ")))"
		found, err := l.search(ctx, s, s.baseDN, ldap.ScopeWholeSubtree, groupFilter, []string{"cn"}, 1)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("group %s: %w", group, ErrNotFound)
		}

		groupDN := ldap.EscapeFilter(found[0].DN)
		memberFilter := "(memberOf=" + groupDN + ")"
		if recursive {
			memberFilter = "(memberOf:" + matchingRuleInChain + ":=" + groupDN + ")"
		}

		attrs := []string{"sAMAccountName", "objectClass"}
		entries, err := l.search(ctx, s, s.baseDN, ldap.ScopeWholeSubtree, memberFilter, attrs, maxResults)
		if err != nil {
			return nil, err
		}

		out := make([]schema.GroupMemberRecord, 0, len(entries))
		for _, e := range entries {
			out = append(out, schema.GroupMemberRecord{
				Group:             group,
				SamAccountName:    e.GetAttributeValue("sAMAccountName"),
				DistinguishedName: e.DN,
				ObjectClass:       structuralClass(e.GetAttributeValues("objectClass")),
			})
		}
		return out, nil
	})
}

func (l *LDAP) Computers(ctx context.Context, q Query) ([]schema.ComputerRecord, error) {
	var enabled string
	if !q.IncludeDisabled {
		enabled = "(!(userAccountControl:1.2.840.113556.1.4.803:=2))"
	}
	filter, err := baseFilter("(objectClass=computer)", "cn", q, enabled)
	if err != nil {
		return nil, err
	}

	attrs := []string{"cn", "dNSHostName", "operatingSystem", "operatingSystemVersion",
		"userAccountControl", "lastLogonTimestamp"}

	return query(ctx, l, func(s *session) ([]schema.ComputerRecord, error) {
		entries, err := l.search(ctx, s, s.base(q), ldap.ScopeWholeSubtree, filter, attrs, q.MaxResults)
		if err != nil {
			return nil, err
		}
		out := make([]schema.ComputerRecord, 0, len(entries))
		for _, e := range entries {
			out = append(out, schema.ComputerRecord{
				Name:              e.GetAttributeValue("cn"),
				DNSHostName:       e.GetAttributeValue("dNSHostName"),
				OperatingSystem:   e.GetAttributeValue("operatingSystem"),
				OSVersion:         e.GetAttributeValue("operatingSystemVersion"),
				DistinguishedName: e.DN,
				Enabled:           accountEnabled(e.GetAttributeValue("userAccountControl")),
				LastLogon:         fileTime(e.GetAttributeValue("lastLogonTimestamp")),
			})
		}
		return out, nil
	})
}

func (l *LDAP) GPOs(ctx context.Context, q Query) ([]schema.GPORecord, error) {
	filter, err := baseFilter("(objectClass=groupPolicyContainer)", "displayName", q)
	if err != nil {
		return nil, err
	}

	attrs := []string{"displayName", "cn", "gPCFileSysPath", "flags"}

	return query(ctx, l, func(s *session) ([]schema.GPORecord, error) {
		base := "CN=Policies,CN=System," + s.baseDN
		entries, err := l.search(ctx, s, base, ldap.ScopeSingleLevel, filter, attrs, q.MaxResults)
		if err != nil {
			return nil, err
		}
		out := make([]schema.GPORecord, 0, len(entries))
		for _, e := range entries {
			out = append(out, schema.GPORecord{
				DisplayName:       e.GetAttributeValue("displayName"),
				ID:                strings.Trim(e.GetAttributeValue("cn"), "{}"),
				FileSysPath:       e.GetAttributeValue("gPCFileSysPath"),
				DistinguishedName: e.DN,
				Status:            gpoStatus(e.GetAttributeValue("flags")),
			})
		}
		return out, nil
	})
}

// zonePartitions lists the containers that hold AD-integrated zones
func zonePartitions(baseDN string) map[string]string {
	return map[string]string{
		"DomainDnsZones": "CN=MicrosoftDNS,DC=DomainDnsZones," + baseDN,
		"Domain":         "CN=MicrosoftDNS,CN=System," + baseDN,
	}
}

func (l *LDAP) DNSZones(ctx context.Context, q Query) ([]schema.DNSZoneRecord, error) {
	filter, err := baseFilter("(objectClass=dnsZone)", "dc", q)
	if err != nil {
		return nil, err
	}

	return query(ctx, l, func(s *session) ([]schema.DNSZoneRecord, error) {
		out := make([]schema.DNSZoneRecord, 0)
		for _, partition := range []string{"DomainDnsZones", "Domain"} {
			base := zonePartitions(s.baseDN)[partition]
			entries, err := l.search(ctx, s, base, ldap.ScopeSingleLevel, filter, []string{"dc"}, q.MaxResults)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				name := e.GetAttributeValue("dc")
				if name == "RootDNSServers" || strings.HasPrefix(name, "..") {
					continue
				}
				out = append(out, schema.DNSZoneRecord{
					Name:              name,
					Partition:         partition,
					DistinguishedName: e.DN,
				})
			}
		}
		return out, nil
	})
}

func (l *LDAP) DNSRecords(ctx context.Context, zone string, q Query) ([]schema.DNSRecord, error) {
	escapedZone, err := EscapeValue(zone)
	if err != nil {
		return nil, err
	}
	filter, err := baseFilter("(objectClass=dnsNode)", "dc", q)
	if err != nil {
		return nil, err
	}

	return query(ctx, l, func(s *session) ([]schema.DNSRecord, error) {
		// Locate the zone in either partition
		var zoneDN string
		for _, partition := range []string{"DomainDnsZones", "Domain"} {
			base := zonePartitions(s.baseDN)[partition]
			found, err := l.search(ctx, s, base, ldap.ScopeSingleLevel,
				"(&(objectClass=dnsZone)(dc="+escapedZone+"))", []string{"dc"}, 1)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if len(found) > 0 {
				zoneDN = found[0].DN
				break
			}
		}
		if zoneDN == "" {
			return nil, fmt.Errorf("zone %s: %w", zone, ErrNotFound)
		}

		entries, err := l.search(ctx, s, zoneDN, ldap.ScopeSingleLevel, filter, []string{"dc", "dnsRecord"}, q.MaxResults)
		if err != nil {
			return nil, err
		}

		out := make([]schema.DNSRecord, 0, len(entries))
		for _, e := range entries {
			name := e.GetAttributeValue("dc")
			for _, raw := range e.GetRawAttributeValues("dnsRecord") {
				typ, ttl, data, perr := parseDNSRecord(raw)
				if perr != nil {
					continue
				}
				out = append(out, schema.DNSRecord{Zone: zone, Name: name, Type: typ, TTL: ttl, Data: data})
			}
		}
		return out, nil
	})
}

// accountEnabled reads the ACCOUNTDISABLE bit of userAccountControl
func accountEnabled(uac string) bool {
	v, err := strconv.ParseInt(uac, 10, 64)
	if err != nil {
		return true
	}
	return v&uacAccountDisable == 0
}

// fileTime converts a Windows FILETIME in 100ns units since 1601
func fileTime(v string) *time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= filetimeEpochDelta {
		return nil
	}
	t := time.Unix(0, (n-filetimeEpochDelta)*100).UTC()
	return &t
}

// generalizedTime parses values such as 20240131120000.0Z
func generalizedTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(generalizedTimeForm, v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// groupKind decodes the scope and security flag of groupType
func groupKind(v string) (string, bool) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return "", false
	}
	bits := uint32(n)
	security := bits&groupTypeSecurity != 0
	switch {
	case bits&groupTypeGlobal != 0:
		return "Global", security
	case bits&groupTypeDomain != 0:
		return "DomainLocal", security
	case bits&groupTypeUniversal != 0:
		return "Universal", security
	}
	return "", security
}

// gpoStatus decodes the flags attribute of a groupPolicyContainer
func gpoStatus(v string) string {
	switch v {
	case "", "0":
		return "AllSettingsEnabled"
	case "1":
		return "UserSettingsDisabled"
	case "2":
		return "ComputerSettingsDisabled"
	case "3":
		return "AllSettingsDisabled"
	}
	return "Unknown"
}

// structuralClass returns the most specific objectClass value
func structuralClass(classes []string) string {
	if len(classes) == 0 {
		return ""
	}
	return classes[len(classes)-1]
}

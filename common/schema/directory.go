/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package schema

import "time"

// Directory records returned by the inventory actions. JSON names double as
// column names when results are flattened into rows.

type UserRecord struct {
	SamAccountName    string     `json:"SamAccountName"`
	DisplayName       string     `json:"DisplayName"`
	UserPrincipalName string     `json:"UserPrincipalName"`
	Mail              string     `json:"Mail"`
	DistinguishedName string     `json:"DistinguishedName"`
	Enabled           bool       `json:"Enabled"`
	LastLogon         *time.Time `json:"LastLogon,omitempty"`
	WhenCreated       *time.Time `json:"WhenCreated,omitempty"`
}

type GroupRecord struct {
	Name              string `json:"Name"`
	SamAccountName    string `json:"SamAccountName"`
	Description       string `json:"Description"`
	DistinguishedName string `json:"DistinguishedName"`
	Scope             string `json:"Scope"`
	Security          bool   `json:"Security"`
	MemberCount       int    `json:"MemberCount"`
}

type GroupMemberRecord struct {
	Group             string `json:"Group"`
	SamAccountName    string `json:"SamAccountName"`
	DistinguishedName string `json:"DistinguishedName"`
	ObjectClass       string `json:"ObjectClass"`
}

type ComputerRecord struct {
	Name              string     `json:"Name"`
	DNSHostName       string     `json:"DnsHostName"`
	OperatingSystem   string     `json:"OperatingSystem"`
	OSVersion         string     `json:"OperatingSystemVersion"`
	DistinguishedName string     `json:"DistinguishedName"`
	Enabled           bool       `json:"Enabled"`
	LastLogon         *time.Time `json:"LastLogon,omitempty"`
}

type GPORecord struct {
	DisplayName       string `json:"DisplayName"`
	ID                string `json:"Id"`
	FileSysPath       string `json:"FileSysPath"`
	DistinguishedName string `json:"DistinguishedName"`
	Status            string `json:"GpoStatus"`
}

type DNSZoneRecord struct {
	Name              string `json:"ZoneName"`
	Partition         string `json:"Partition"`
	DistinguishedName string `json:"DistinguishedName"`
}

type DNSRecord struct {
	Zone string `json:"ZoneName"`
	Name string `json:"HostName"`
	Type string `json:"RecordType"`
	TTL  uint32 `json:"TimeToLive"`
	Data string `json:"RecordData"`
}

// PingResult is returned by the Ping action
type PingResult struct {
	Agent   string    `json:"Agent"`
	Version string    `json:"Version"`
	Time    time.Time `json:"Time"`
}

// ScriptResult is returned by the RunScript action
type ScriptResult struct {
	ExitCode  int    `json:"ExitCode"`
	Stdout    string `json:"Stdout"`
	Stderr    string `json:"Stderr"`
	Truncated bool   `json:"Truncated,omitempty"`
}

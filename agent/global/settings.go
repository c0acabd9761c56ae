/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"fmt"
	"time"

	"github.com/UnifyEM/diragent/common/thumbprint"
)

// DirectorySettings locate and authenticate to the directory service
type DirectorySettings struct {
	URL          string
	BaseDN       string
	BindDN       string
	BindPassword string
	Insecure     bool
	PageSize     int
	MaxResults   int
}

// Settings is an immutable snapshot of the typed configuration. A new
// snapshot replaces the old one on reload; fields are never modified in place.
type Settings struct {
	Listen                 string
	TLSCertFile            string
	TLSKeyFile             string
	TLSPFXFile             string
	TLSPFXPassword         string
	ClientCAFile           string
	AllowList              *thumbprint.AllowList
	MaxRequestBytes        int64
	ActionTimeout          time.Duration
	ClockSkew              time.Duration
	ReplayWindow           time.Duration
	RequireSignedRequests  bool
	MaxRequestsPerMinute   int
	MaxConcurrentRequests  int
	MaxConnections         int
	EnforceRevocationCheck bool
	FailOpenOnRevocation   bool
	RevocationTimeout      time.Duration
	CRLCacheTTL            time.Duration
	AuditFile              string
	LogFile                string
	LogStdout              bool
	LogJSON                bool
	LogRetention           int
	LogCompress            bool
	Debug                  bool
	MetricsListen          string
	Directory              DirectorySettings
	BrokerURL              string
	BrokerCAFile           string
	AgentID                string
	ScriptShell            string
	ScriptMaxOutput        int
	ReconnectMin           time.Duration
	ReconnectMax           time.Duration
}

// Settings builds a validated snapshot from the current parameters
func (c *AgentConfig) Settings() (*Settings, error) {
	p := c.AC

	allow, err := thumbprint.NewAllowList(p.Get(ConfigClientThumbprints).SplitList())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ConfigClientThumbprints, err)
	}

	s := &Settings{
		Listen:                 p.Get(ConfigListen).String(),
		TLSCertFile:            p.Get(ConfigTLSCertFile).String(),
		TLSKeyFile:             p.Get(ConfigTLSKeyFile).String(),
		TLSPFXFile:             p.Get(ConfigTLSPFXFile).String(),
		TLSPFXPassword:         p.Get(ConfigTLSPFXPassword).String(),
		ClientCAFile:           p.Get(ConfigClientCAFile).String(),
		AllowList:              allow,
		MaxRequestBytes:        p.Get(ConfigMaxRequestBytes).Int64(),
		ActionTimeout:          p.Get(ConfigActionTimeout).Duration(time.Second),
		ClockSkew:              p.Get(ConfigClockSkew).Duration(time.Second),
		ReplayWindow:           p.Get(ConfigReplayCacheMinutes).Duration(time.Minute),
		RequireSignedRequests:  p.Get(ConfigRequireSigned).Bool(),
		MaxRequestsPerMinute:   p.Get(ConfigMaxRequestsPerMinute).Int(),
		MaxConcurrentRequests:  p.Get(ConfigMaxConcurrentRequests).Int(),
		MaxConnections:         p.Get(ConfigMaxConnections).Int(),
		EnforceRevocationCheck: p.Get(ConfigEnforceRevocation).Bool(),
		FailOpenOnRevocation:   p.Get(ConfigFailOpenOnRevocation).Bool(),
		RevocationTimeout:      p.Get(ConfigRevocationTimeout).Duration(time.Second),
		CRLCacheTTL:            p.Get(ConfigCRLCacheMinutes).Duration(time.Minute),
		AuditFile:              p.Get(ConfigAuditFile).String(),
		LogFile:                p.Get(ConfigLogFile).String(),
		LogStdout:              p.Get(ConfigLogStdout).Bool(),
		LogJSON:                p.Get(ConfigLogJSON).Bool(),
		LogRetention:           p.Get(ConfigLogRetention).Int(),
		LogCompress:            p.Get(ConfigLogCompress).Bool(),
		Debug:                  p.Get(ConfigDebug).Bool(),
		MetricsListen:          p.Get(ConfigMetricsListen).String(),
		Directory: DirectorySettings{
			URL:          p.Get(ConfigDirectoryURL).String(),
			BaseDN:       p.Get(ConfigDirectoryBaseDN).String(),
			BindDN:       p.Get(ConfigDirectoryBindDN).String(),
			BindPassword: p.Get(ConfigDirectoryBindPassword).String(),
			Insecure:     p.Get(ConfigDirectoryInsecure).Bool(),
			PageSize:     p.Get(ConfigDirectoryPageSize).Int(),
			MaxResults:   p.Get(ConfigDirectoryMaxResultRows).Int(),
		},
		BrokerURL:       p.Get(ConfigBrokerURL).String(),
		BrokerCAFile:    p.Get(ConfigBrokerCAFile).String(),
		AgentID:         p.Get(ConfigAgentID).String(),
		ScriptShell:     p.Get(ConfigScriptShell).String(),
		ScriptMaxOutput: p.Get(ConfigScriptMaxOutputBytes).Int(),
		ReconnectMin:    p.Get(ConfigReconnectMinSeconds).Duration(time.Second),
		ReconnectMax:    p.Get(ConfigReconnectMaxSeconds).Duration(time.Second),
	}

	if s.ReconnectMax < s.ReconnectMin {
		s.ReconnectMax = s.ReconnectMin
	}

	// A nonce must outlive every timestamp that can still pass the skew
	// check, otherwise a captured request becomes replayable
	if floor := 2 * s.ClockSkew; s.ReplayWindow < floor {
		s.ReplayWindow = floor
	}
	return s, nil
}

// Defaults returns the settings of an empty configuration, used by tests and
// by commands that run without a configuration file
func Defaults() *Settings {
	c := &AgentConfig{}
	c.C, _ = newMemoryConfig()
	c.AC = SetDefaults(c.C)
	s, _ := c.Settings()
	return s
}

// Clone returns a shallow copy that callers may modify before publishing
func (s *Settings) Clone() *Settings {
	c := *s
	return &c
}

/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"fmt"
	"os"
	"runtime"

	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/uconfig"
)

const ConfigSet = "agent"

// Configuration keys
const (
	ConfigListen                 = "listen"
	ConfigTLSCertFile            = "tls_cert_file"
	ConfigTLSKeyFile             = "tls_key_file"
	ConfigTLSPFXFile             = "tls_pfx_file"
	ConfigTLSPFXPassword         = "tls_pfx_password"
	ConfigClientCAFile           = "client_ca_file"
	ConfigClientThumbprints      = "analyzer_client_thumbprints"
	ConfigMaxRequestBytes        = "max_request_bytes"
	ConfigActionTimeout          = "action_timeout_seconds"
	ConfigClockSkew              = "request_clock_skew_seconds"
	ConfigReplayCacheMinutes     = "replay_cache_minutes"
	ConfigRequireSigned          = "require_signed_requests"
	ConfigMaxRequestsPerMinute   = "max_requests_per_minute"
	ConfigMaxConcurrentRequests  = "max_concurrent_requests"
	ConfigMaxConnections         = "max_connections"
	ConfigEnforceRevocation      = "enforce_revocation_check"
	ConfigFailOpenOnRevocation   = "fail_open_on_revocation"
	ConfigRevocationTimeout      = "revocation_timeout_seconds"
	ConfigCRLCacheMinutes        = "crl_cache_minutes"
	ConfigAuditFile              = "audit_file"
	ConfigLogFile                = "log_file"
	ConfigLogStdout              = "log_stdout"
	ConfigLogJSON                = "log_json"
	ConfigLogRetention           = "log_retention"
	ConfigLogCompress            = "log_compress"
	ConfigDebug                  = "debug"
	ConfigMetricsListen          = "metrics_listen"
	ConfigDirectoryURL           = "directory_url"
	ConfigDirectoryBaseDN        = "directory_base_dn"
	ConfigDirectoryBindDN        = "directory_bind_dn"
	ConfigDirectoryBindPassword  = "directory_bind_password"
	ConfigDirectoryInsecure      = "directory_insecure"
	ConfigBrokerURL              = "broker_url"
	ConfigBrokerCAFile           = "broker_ca_file"
	ConfigAgentID                = "agent_id"
	ConfigScriptShell            = "script_shell"
	ConfigReconnectMinSeconds    = "reconnect_min_seconds"
	ConfigReconnectMaxSeconds    = "reconnect_max_seconds"
	ConfigScriptMaxOutputBytes   = "script_max_output_bytes"
	ConfigDirectoryPageSize      = "directory_page_size"
	ConfigDirectoryMaxResultRows = "directory_max_results"
)

type AgentConfig struct {
	C  interfaces.Config     // Config object
	AC interfaces.Parameters // Agent configuration
}

// SetDefaults makes sure the set exists and applies defaults and constraints
func SetDefaults(c interfaces.Config) interfaces.Parameters {
	s := c.NewSet(ConfigSet)
	s.SetConstraint(ConfigListen, 0, 0, ":8443")
	s.SetConstraint(ConfigTLSCertFile, 0, 0, "")
	s.SetConstraint(ConfigTLSKeyFile, 0, 0, "")
	s.SetConstraint(ConfigTLSPFXFile, 0, 0, "")
	s.SetConstraint(ConfigTLSPFXPassword, 0, 0, "")
	s.SetConstraint(ConfigClientCAFile, 0, 0, "")
	s.SetConstraint(ConfigClientThumbprints, 0, 0, "")
	s.SetConstraint(ConfigMaxRequestBytes, 1024, 16777216, 65536)
	s.SetConstraint(ConfigActionTimeout, 1, 3600, 60)
	s.SetConstraint(ConfigClockSkew, 1, 86400, 300)
	s.SetConstraint(ConfigReplayCacheMinutes, 1, 1440, 10)
	s.SetConstraint(ConfigRequireSigned, 0, 0, true)
	s.SetConstraint(ConfigMaxRequestsPerMinute, 0, 1000000, 120)
	s.SetConstraint(ConfigMaxConcurrentRequests, 1, 1024, 8)
	s.SetConstraint(ConfigMaxConnections, 1, 65535, 64)
	s.SetConstraint(ConfigEnforceRevocation, 0, 0, false)
	s.SetConstraint(ConfigFailOpenOnRevocation, 0, 0, false)
	s.SetConstraint(ConfigRevocationTimeout, 1, 300, 10)
	s.SetConstraint(ConfigCRLCacheMinutes, 0, 1440, 10)
	s.SetConstraint(ConfigAuditFile, 0, 0, "")
	s.SetConstraint(ConfigLogFile, 0, 0, "")
	s.SetConstraint(ConfigLogStdout, 0, 0, true)
	s.SetConstraint(ConfigLogJSON, 0, 0, false)
	s.SetConstraint(ConfigLogRetention, 1, 365, 30)
	s.SetConstraint(ConfigLogCompress, 0, 0, true)
	s.SetConstraint(ConfigDebug, 0, 0, false)
	s.SetConstraint(ConfigMetricsListen, 0, 0, "")
	s.SetConstraint(ConfigDirectoryURL, 0, 0, "")
	s.SetConstraint(ConfigDirectoryBaseDN, 0, 0, "")
	s.SetConstraint(ConfigDirectoryBindDN, 0, 0, "")
	s.SetConstraint(ConfigDirectoryBindPassword, 0, 0, "")
	s.SetConstraint(ConfigDirectoryInsecure, 0, 0, false)
	s.SetConstraint(ConfigBrokerURL, 0, 0, "")
	s.SetConstraint(ConfigBrokerCAFile, 0, 0, "")
	s.SetConstraint(ConfigAgentID, 0, 0, "")
	s.SetConstraint(ConfigScriptShell, 0, 0, "")
	s.SetConstraint(ConfigReconnectMinSeconds, 1, 3600, 1)
	s.SetConstraint(ConfigReconnectMaxSeconds, 1, 86400, 60)
	s.SetConstraint(ConfigScriptMaxOutputBytes, 1024, 67108864, 1048576)
	s.SetConstraint(ConfigDirectoryPageSize, 1, 5000, 500)
	s.SetConstraint(ConfigDirectoryMaxResultRows, 1, 1000000, 10000)
	return s
}

// Config loads the configuration. An explicit file wins; otherwise the
// OS-specific search list is used and the first writable entry is created.
func Config(file string) (*AgentConfig, error) {
	var err error
	c := &AgentConfig{}

	switch {
	case file != "":
		c.C, err = uconfig.New(uconfig.WithLoad(file))
	case runtime.GOOS == "windows":
		c.C, err = uconfig.New(uconfig.WithFindOrCreate(WindowsConfigFiles))
	default:
		c.C, err = uconfig.New(uconfig.WithFindOrCreate(UnixConfigFiles))
	}
	if err != nil {
		return nil, fmt.Errorf("unable to load configuration: %w", err)
	}

	c.AC = SetDefaults(c.C)

	if c.AC.Get(ConfigAgentID).String() == "" {
		if host, hErr := os.Hostname(); hErr == nil {
			c.AC.Set(ConfigAgentID, host)
		}
	}
	return c, nil
}

// Reload re-reads the configuration file into a fresh object and swaps it
// in only when the result is valid
func (c *AgentConfig) Reload() (*Settings, error) {
	file := c.C.File()
	if file == "" {
		return nil, fmt.Errorf("configuration was not loaded from a file")
	}

	fresh, err := uconfig.New(uconfig.WithLoad(file))
	if err != nil {
		return nil, err
	}

	next := &AgentConfig{C: fresh, AC: SetDefaults(fresh)}

	// agent_id is derived from the host name when absent
	if next.AC.Get(ConfigAgentID).String() == "" {
		next.AC.Set(ConfigAgentID, c.AC.Get(ConfigAgentID).String())
	}

	s, err := next.Settings()
	if err != nil {
		return nil, err
	}

	c.C, c.AC = next.C, next.AC
	return s, nil
}

func (c *AgentConfig) Checkpoint() error {
	return c.C.Checkpoint()
}

// newMemoryConfig returns a configuration that is never persisted
func newMemoryConfig() (interfaces.Config, error) {
	return uconfig.New()
}

// FromMap builds a configuration from key/value pairs without a file
func FromMap(values map[string]any) *AgentConfig {
	c := &AgentConfig{}
	c.C, _ = newMemoryConfig()
	c.AC = SetDefaults(c.C)
	c.AC.SetMap(values)
	return c
}

/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"runtime"

	"github.com/UnifyEM/diragent/common/interfaces"
)

const (
	ConfigServerSet          = "broker_config"
	ConfigLogFile            = "log_file"
	ConfigLogStdout          = "log_stdout"
	ConfigLogJSON            = "log_json"
	ConfigLogRetention       = "log_retention"
	ConfigLogCompress        = "log_compress"
	ConfigDebug              = "debug"
	ConfigListen             = "listen"
	ConfigTLSCertFile        = "tls_cert_file"
	ConfigTLSKeyFile         = "tls_key_file"
	ConfigTLSPFXFile         = "tls_pfx_file"
	ConfigTLSPFXPassword     = "tls_pfx_password"
	ConfigAgentCAFile        = "agent_ca_file"
	ConfigAgentThumbprints   = "agent_thumbprints"
	ConfigDataPath           = "data_path"
	ConfigDBPath             = "db_path"
	ConfigHTTPTimeout        = "http_timeout"
	ConfigHTTPIdleTimeout    = "http_idle_timeout"
	ConfigMaxConcurrent      = "max_concurrent"
	ConfigPenaltyBoxMin      = "penalty_box_min"
	ConfigPenaltyBoxMax      = "penalty_box_max"
	ConfigHandlerTimeout     = "handler_timeout"
	ConfigAccessTokenLife    = "access_token_life"
	ConfigAuthorizedAdminIPs = "authorized_admin_ips"
	ConfigTrustedProxies     = "trusted_proxies"
	ConfigJobRetention       = "job_retention_days"
	ConfigAgentRetention     = "agent_retention_days"
	ConfigPruneSchedule      = "prune_schedule"
	ConfigMetrics            = "metrics"

	ConfigPrivate = "broker_private"
	ConfigJWTKey  = "jwt_key"
)

// setDefaults makes sure the sets exist, sets default values, and constraints
func setDefaults(c interfaces.Config) (interfaces.Parameters, interfaces.Parameters) {

	// Broker configuration set
	sc := c.NewSet(ConfigServerSet)
	sc.SetConstraint(ConfigLogFile, 0, 0, "")                     // no log file by default
	sc.SetConstraint(ConfigLogStdout, 0, 0, true)                 // by default log to stdout
	sc.SetConstraint(ConfigLogJSON, 0, 0, false)                  // plain text log lines
	sc.SetConstraint(ConfigLogRetention, 1, 3650, 365)            // days
	sc.SetConstraint(ConfigLogCompress, 0, 0, true)               // gzip rotated logs
	sc.SetConstraint(ConfigDebug, 0, 0, false)                    // debug logging
	sc.SetConstraint(ConfigListen, 0, 0, ":8444")                 // listen address
	sc.SetConstraint(ConfigTLSCertFile, 0, 0, "")                 // PEM server certificate
	sc.SetConstraint(ConfigTLSKeyFile, 0, 0, "")                  // PEM server key
	sc.SetConstraint(ConfigTLSPFXFile, 0, 0, "")                  // or a PFX bundle
	sc.SetConstraint(ConfigTLSPFXPassword, 0, 0, "")              // PFX password
	sc.SetConstraint(ConfigAgentCAFile, 0, 0, "")                 // CA bundle for agent certificates
	sc.SetConstraint(ConfigAgentThumbprints, 0, 0, "")            // comma separated agent certificate thumbprints
	sc.SetConstraint(ConfigDataPath, 0, 0, "")                    // data path (base directory for data)
	sc.SetConstraint(ConfigDBPath, 0, 0, "")                      // database path
	sc.SetConstraint(ConfigHTTPTimeout, 1, 3600, 30)              // seconds
	sc.SetConstraint(ConfigHTTPIdleTimeout, 1, 3600, 120)         // seconds
	sc.SetConstraint(ConfigMaxConcurrent, 1, 100000, 200)         // concurrent connections, agents included
	sc.SetConstraint(ConfigPenaltyBoxMin, 0, 60000, 1000)         // Minimum penalty box time in milliseconds
	sc.SetConstraint(ConfigPenaltyBoxMax, 0, 60000, 5000)         // Maximum penalty box time in milliseconds
	sc.SetConstraint(ConfigHandlerTimeout, 1, 3600, 30)           // seconds
	sc.SetConstraint(ConfigAccessTokenLife, 0, 525600, 720)       // minutes, 0 means no expiry
	sc.SetConstraint(ConfigAuthorizedAdminIPs, 0, 0, "127.0.0.1") // admin tokens only work from these, "*" for any
	sc.SetConstraint(ConfigTrustedProxies, 0, 0, "")              // reverse proxies allowed to set X-Forwarded-For
	sc.SetConstraint(ConfigJobRetention, 0, 3650, 30)             // days, 0 keeps jobs
	sc.SetConstraint(ConfigAgentRetention, 0, 3650, 365)          // days
	sc.SetConstraint(ConfigPruneSchedule, 0, 0, "@daily")         // cron spec, "off" disables pruning
	sc.SetConstraint(ConfigMetrics, 0, 0, true)                   // serve /metrics on the API listener

	// Protected configuration items
	sp := c.NewSet(ConfigPrivate)
	sp.SetConstraint(ConfigJWTKey, 0, 0, "")

	// Return the sets
	return sc, sp
}

// DefaultLog is used to create a log location if the usual approach fails
func DefaultLog() string {
	if runtime.GOOS == "windows" {
		return "C:\\ProgramData\\" + LogName + "\\" + LogName + ".log"
	}
	return "/var/log/" + LogName + ".log"
}

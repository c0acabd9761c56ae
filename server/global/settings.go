/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/UnifyEM/diragent/common/thumbprint"
	"github.com/UnifyEM/diragent/common/userver"
)

// Settings is a validated, typed view of the broker configuration
type Settings struct {
	Listen          string
	TLSCertFile     string
	TLSKeyFile      string
	TLSPFXFile      string
	TLSPFXPassword  string
	AgentCAFile     string
	AgentAllowList  *thumbprint.AllowList
	DBFile          string
	HTTPTimeout     int
	HTTPIdleTimeout int
	HandlerTimeout  int
	MaxConcurrent   int
	PenaltyBoxMin   int
	PenaltyBoxMax   int
	AccessTokenLife time.Duration
	AdminIPs        map[string]struct{} // empty means any source
	TrustedProxies  []string
	JobRetention    time.Duration
	AgentRetention  time.Duration
	PruneSchedule   string
	Metrics         bool
	LogFile         string
	LogStdout       bool
	LogJSON         bool
	LogRetention    int
	LogCompress     bool
	Debug           bool
	JWTKey          []byte
}

// Settings builds the typed view and validates it
func (c *ServerConfig) Settings() (*Settings, error) {
	p := c.SC

	allow, err := thumbprint.NewAllowList(p.Get(ConfigAgentThumbprints).SplitList())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ConfigAgentThumbprints, err)
	}

	s := &Settings{
		Listen:          p.Get(ConfigListen).String(),
		TLSCertFile:     p.Get(ConfigTLSCertFile).String(),
		TLSKeyFile:      p.Get(ConfigTLSKeyFile).String(),
		TLSPFXFile:      p.Get(ConfigTLSPFXFile).String(),
		TLSPFXPassword:  p.Get(ConfigTLSPFXPassword).String(),
		AgentCAFile:     p.Get(ConfigAgentCAFile).String(),
		AgentAllowList:  allow,
		DBFile:          c.DBFile(),
		HTTPTimeout:     p.Get(ConfigHTTPTimeout).Int(),
		HTTPIdleTimeout: p.Get(ConfigHTTPIdleTimeout).Int(),
		HandlerTimeout:  p.Get(ConfigHandlerTimeout).Int(),
		MaxConcurrent:   p.Get(ConfigMaxConcurrent).Int(),
		PenaltyBoxMin:   p.Get(ConfigPenaltyBoxMin).Int(),
		PenaltyBoxMax:   p.Get(ConfigPenaltyBoxMax).Int(),
		AccessTokenLife: p.Get(ConfigAccessTokenLife).Duration(time.Minute),
		AdminIPs:        adminIPs(p.Get(ConfigAuthorizedAdminIPs).SplitList()),
		TrustedProxies:  p.Get(ConfigTrustedProxies).SplitList(),
		JobRetention:    p.Get(ConfigJobRetention).Duration(24 * time.Hour),
		AgentRetention:  p.Get(ConfigAgentRetention).Duration(24 * time.Hour),
		PruneSchedule:   pruneSchedule(p.Get(ConfigPruneSchedule).String()),
		Metrics:         p.Get(ConfigMetrics).Bool(),
		LogFile:         p.Get(ConfigLogFile).String(),
		LogStdout:       p.Get(ConfigLogStdout).Bool(),
		LogJSON:         p.Get(ConfigLogJSON).Bool(),
		LogRetention:    p.Get(ConfigLogRetention).Int(),
		LogCompress:     p.Get(ConfigLogCompress).Bool(),
		Debug:           p.Get(ConfigDebug).Bool() || Debug,
		JWTKey:          []byte(c.SP.Get(ConfigJWTKey).String()),
	}

	if ListenOverride != "" {
		s.Listen = ListenOverride
	}

	if len(s.JWTKey) == 0 {
		return nil, errors.New("JWT signing key is missing")
	}

	if _, err = userver.ParseProxies(s.TrustedProxies); err != nil {
		return nil, fmt.Errorf("%s: %w", ConfigTrustedProxies, err)
	}

	if s.PruneSchedule != "" {
		if _, err = cron.ParseStandard(s.PruneSchedule); err != nil {
			return nil, fmt.Errorf("%s: %w", ConfigPruneSchedule, err)
		}
	}
	return s, nil
}

// adminIPs returns an empty set, meaning any address, when the list holds "*"
func adminIPs(list []string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, ip := range list {
		if ip == "*" {
			return map[string]struct{}{}
		}
		m[ip] = struct{}{}
	}
	return m
}

// pruneSchedule maps the values that disable pruning to ""
func pruneSchedule(spec string) string {
	switch strings.ToLower(spec) {
	case "off", "none", "disabled":
		return ""
	}
	return spec
}

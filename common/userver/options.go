/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package userver

import (
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/UnifyEM/diragent/common/interfaces"
)

// Functional options

func WithLogger(logger interfaces.Logger) func(*HServer) error {
	return func(e *HServer) error {
		e.Logger = logger
		return nil
	}
}

func WithListen(listen string) func(*HServer) error {
	return func(e *HServer) error {
		e.Listen = listen
		return nil
	}
}

// WithHTTPTimeout bounds reading a request and writing the response, in seconds
func WithHTTPTimeout(t int) func(*HServer) error {
	return func(e *HServer) error {
		if t < 0 {
			return errors.New("http timeout must not be negative")
		}
		e.HTTPTimeout = t
		return nil
	}
}

func WithHTTPIdleTimeout(t int) func(*HServer) error {
	return func(e *HServer) error {
		if t < 0 {
			return errors.New("idle timeout must not be negative")
		}
		e.HTTPIdleTimeout = t
		return nil
	}
}

func WithHandlerTimeout(t int) func(*HServer) error {
	return func(e *HServer) error {
		if t <= 0 {
			return errors.New("handler timeout must be positive")
		}
		e.HandlerTimeout = t
		return nil
	}
}

// WithPenaltyBox delays failed requests by min to max milliseconds
func WithPenaltyBox(min, max int) func(*HServer) error {
	return func(e *HServer) error {
		if min < 0 || max < min {
			return fmt.Errorf("invalid penalty box range %d..%d", min, max)
		}
		e.PenaltyBoxMin = min
		e.PenaltyBoxMax = max
		return nil
	}
}

// WithMaxConcurrent caps open connections; 0 means no limit
func WithMaxConcurrent(m int) func(*HServer) error {
	return func(e *HServer) error {
		if m < 0 {
			return errors.New("max concurrent must not be negative")
		}
		e.MaxConcurrent = m
		return nil
	}
}

// WithTrustedProxies lists the addresses or prefixes whose X-Forwarded-For
// header is believed
func WithTrustedProxies(list []string) func(*HServer) error {
	return func(e *HServer) error {
		prefixes, err := ParseProxies(list)
		if err != nil {
			return err
		}
		e.TrustedProxies = prefixes
		return nil
	}
}

func WithSEid(seid uint32) func(*HServer) error {
	return func(e *HServer) error {
		e.SEid = seid
		return nil
	}
}

func WithHealthHandler(h bool) func(*HServer) error {
	return func(e *HServer) error {
		e.HealthHandler = h
		return nil
	}
}

// WithTLSConfig enables TLS with the given configuration
func WithTLSConfig(c *tls.Config) func(*HServer) error {
	return func(e *HServer) error {
		e.TLS = c != nil
		e.TLSConfig = c
		return nil
	}
}

func WithDefaultHeaders(d bool) func(*HServer) error {
	return func(e *HServer) error {
		e.DefaultHeaders = d
		return nil
	}
}

func WithTLS(t bool) func(*HServer) error {
	return func(e *HServer) error {
		e.TLS = t
		return nil
	}
}

func WithTLSStrongCiphers(c bool) func(*HServer) error {
	return func(e *HServer) error {
		e.TLSStrongCiphers = c
		return nil
	}
}

func WithDebug(d bool) func(*HServer) error {
	return func(e *HServer) error {
		e.Debug = d
		return nil
	}
}

// WithAuthFunc authenticates the not found and method not allowed responses
func WithAuthFunc(authFunc AuthFunc) func(*HServer) error {
	return func(e *HServer) error {
		e.AuthFunc = authFunc
		return nil
	}
}

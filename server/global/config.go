/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/uconfig"
)

type ServerConfig struct {
	C  interfaces.Config     // Config object
	SC interfaces.Parameters // Broker configuration
	SP interfaces.Parameters // Broker private configuration
}

// Config creates the configuration object, sets defaults, and loads the
// configuration from an explicit file, the registry, or the file system
func Config(file string) (*ServerConfig, error) {
	var err error
	c := &ServerConfig{}

	switch {
	case file != "":
		c.C, err = uconfig.New(uconfig.WithLoadOrCreate(file))
	case runtime.GOOS == "windows":
		c.C, err = uconfig.New(uconfig.WithWindowsRegistry(Name))
	default:
		c.C, err = uconfig.New(uconfig.WithFindOrCreate(UnixConfigFiles))
	}
	if err != nil {
		return nil, err
	}

	// SC is the general broker configuration set
	// SP is the private broker configuration set
	c.SC, c.SP = setDefaults(c.C)

	// Make sure there is a JWT signing key
	if c.SP.Get(ConfigJWTKey).String() == "" {
		key, err := GenerateToken()
		if err != nil {
			return nil, err
		}
		c.SP.Set(ConfigJWTKey, key)
	}

	// Check for a data path
	dPath := c.SC.Get(ConfigDataPath).String()
	if dPath == "" {
		dSearch := UnixDefaultDataPaths
		if runtime.GOOS == "windows" {
			dSearch = WindowsDefaultDataPaths
		}

		// Use the first location that exists or can be created
		var tried []string
		for _, path := range dSearch {
			if err = uconfig.EnsureDir(path); err == nil {
				dPath = path
				break
			}
			tried = append(tried, err.Error())
		}

		if dPath == "" {
			return nil, fmt.Errorf("unable to determine or create data directory: %s", strings.Join(tried, "; "))
		}
		c.SC.Set(ConfigDataPath, dPath)
	}

	// Make sure there is a database path
	dbPath := c.SC.Get(ConfigDBPath).String()
	if dbPath == "" {
		if dbPath, err = uconfig.EnsureSubDir(dPath, "db"); err != nil {
			return nil, fmt.Errorf("unable to create database directory: %w", err)
		}
		c.SC.Set(ConfigDBPath, dbPath)
	}

	// Check for logfile and if not set one
	if c.SC.Get(ConfigLogFile).String() == "" {
		logFile := DefaultLog()
		if lPath, err := uconfig.EnsureSubDir(dPath, "logs"); err == nil {
			logFile = filepath.Join(lPath, LogName+".log")
		}
		c.SC.Set(ConfigLogFile, logFile)
	}

	// The paths could be in the config file but have been deleted
	for _, dir := range []string{dPath, dbPath} {
		if err = uconfig.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("unable to open or create %s: %w", dir, err)
		}
	}

	// Persist generated values
	if err = c.C.Checkpoint(); err != nil {
		return nil, fmt.Errorf("unable to checkpoint config: %w", err)
	}
	return c, nil
}

// FromMap builds an unsaved configuration from key/value pairs. The JWT key
// is generated when absent.
func FromMap(values map[string]any) (*ServerConfig, error) {
	mem, err := uconfig.New()
	if err != nil {
		return nil, err
	}
	c := &ServerConfig{C: mem}
	c.SC, c.SP = setDefaults(c.C)
	c.SC.SetMap(values)

	key, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	c.SP.Set(ConfigJWTKey, key)
	return c, nil
}

// GenerateToken creates a new random token
func GenerateToken() (string, error) {
	token := make([]byte, TokenLength)
	if _, err := io.ReadFull(rand.Reader, token); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(token), nil
}

// DBFile returns the full path of the job database
func (c *ServerConfig) DBFile() string {
	return filepath.Join(c.SC.Get(ConfigDBPath).String(), DBFile)
}

func (c *ServerConfig) Checkpoint() error {
	return c.C.Checkpoint()
}

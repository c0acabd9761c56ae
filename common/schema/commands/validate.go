/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package commands

import (
	"errors"
	"fmt"

	"github.com/UnifyEM/diragent/common/schema"
)

var ErrUnknownCommand = errors.New("unknown action")

// Validate checks that the action exists, that all required parameters are
// present, and that every supplied parameter is either required or optional.
// Parameter names are compared case-insensitively.
//
//goland:noinspection GoUnusedExportedFunction
func Validate(cmd string, parameters schema.Parameters) error {
	cmdTemplate, ok := Lookup(cmd)
	if !ok {
		return ErrUnknownCommand
	}
	return cmdTemplate.Validate(parameters)
}

// Validate checks parameters against this command's allow-list
func (c Command) Validate(parameters schema.Parameters) error {
	if err := parameters.CheckUnique(); err != nil {
		return err
	}

	// Check if all required arguments are present and non-empty
	for _, arg := range c.RequiredArgs {
		v, ok := parameters.Get(arg)
		if !ok || v == "" {
			return errors.New("missing required argument: " + arg)
		}
	}

	// Check that all parameters are either a required or optional argument
	for param := range parameters {
		if !containsFold(c.RequiredArgs, param) && !containsFold(c.OptionalArgs, param) {
			return fmt.Errorf("invalid argument: %s", param)
		}
	}
	return nil
}

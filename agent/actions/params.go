/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package actions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/UnifyEM/diragent/agent/directory"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/schema/commands"
)

// MaxResultsLimit bounds the MaxResults parameter
const MaxResultsLimit = 100000

var errNotBool = errors.New("expected true, false, 1, 0, yes or no")

// ParseBool accepts true/false, 1/0 and yes/no in any case
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, errNotBool
}

// args reads the parameters of one request. The allow-list has already been
// enforced by checkParameters.
type args struct {
	p schema.Parameters
}

func (a args) str(name string) string {
	return strings.TrimSpace(a.p.Value(name))
}

func (a args) boolean(name string, def bool) (bool, error) {
	v, ok := a.p.Get(name)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	b, err := ParseBool(v)
	if err != nil {
		return false, InvalidParameter(name, err)
	}
	return b, nil
}

func (a args) maxResults() (int, error) {
	v := a.str(commands.ArgMaxResults)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > MaxResultsLimit {
		return 0, InvalidParameter(commands.ArgMaxResults, fmt.Errorf("expected an integer between 0 and %d", MaxResultsLimit))
	}
	return n, nil
}

// query builds a directory query from the parameters the action allows
func (a args) query() (directory.Query, error) {
	var q directory.Query
	var err error

	if q.IncludeDisabled, err = a.boolean(commands.ArgIncludeDisabled, false); err != nil {
		return q, err
	}
	if q.MaxResults, err = a.maxResults(); err != nil {
		return q, err
	}

	q.NameLike = a.str(commands.ArgNameLike)
	if _, err = directory.EscapeLike(q.NameLike); err != nil {
		return q, InvalidParameter(commands.ArgNameLike, err)
	}

	if q.Filter, err = directory.CheckFilter(a.str(commands.ArgFilter)); err != nil {
		return q, InvalidParameter(commands.ArgFilter, err)
	}

	q.SearchBase = a.str(commands.ArgSearchBase)
	if q.SearchBase != "" {
		if err = directory.CheckDN(q.SearchBase); err != nil {
			return q, InvalidParameter(commands.ArgSearchBase, err)
		}
	}
	return q, nil
}

// name returns an exact-match name parameter such as Group or Zone
func (a args) name(param string) (string, error) {
	v := a.str(param)
	if _, err := directory.EscapeValue(v); err != nil {
		return "", InvalidParameter(param, err)
	}
	return v, nil
}

// checkParameters enforces the action's parameter allow-list and the shape
// of boolean parameters before the handler runs
func checkParameters(cmd commands.Command, p schema.Parameters) error {
	if err := cmd.Validate(p); err != nil {
		return &ActionError{Code: schema.CodeInvalidParameter, Message: "parameter validation failed", Err: err}
	}
	for k, v := range p {
		if cmd.IsBool(k) && strings.TrimSpace(v) != "" {
			if _, err := ParseBool(v); err != nil {
				return InvalidParameter(k, err)
			}
		}
		if cmd.IsFilter(k) && len(v) > directory.MaxFilterLength {
			return InvalidParameter(k, directory.ErrFilterTooLong)
		}
	}
	return nil
}

//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/userver"
)

// AuthInfo identifies the operator behind a request
type AuthInfo struct {
	ID            string
	Role          int
	Authenticated bool
}

var _ userver.AuthDetails = AuthInfo{}

func (a AuthInfo) IsAuthenticated() bool {
	return a.Authenticated
}

// Failure bodies never say which check failed, except for expiry so the
// CLI can tell the operator to fetch a new token
var (
	authFailBody    = mustJSON(schema.APIGenericResponse{Status: schema.APIStatusError, Code: http.StatusUnauthorized, Details: "authentication failed"})
	authExpiredBody = mustJSON(schema.APIGenericResponse{Status: schema.APIStatusExpired, Code: http.StatusUnauthorized, Details: "token expired"})
)

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// NewAuthFunc returns an AuthFunc admitting bearer tokens with one of roles
func (a *API) NewAuthFunc(roles []int) userver.AuthFunc {
	return func(ip, authHeader string) (bool, []byte, any) {
		logFields := fields.NewFields(fields.NewField("src_ip", ip))

		token, err := bearer(authHeader)
		if err != nil {
			var eid uint32 = EventAuthFormat
			if authHeader == "" {
				eid = EventAuthMissing
			}
			a.logger.Warning(eid, "authentication failure", withError(logFields, err))
			return false, authFailBody, AuthInfo{}
		}

		user, role, err := a.tokens.Validate(token, schema.TokenPurposeAccess)
		if errors.Is(err, jwt.ErrTokenExpired) {
			a.logger.Info(EventAuthToken, "authentication expired", withError(logFields, err))
			return false, authExpiredBody, AuthInfo{}
		}
		if err != nil {
			a.logger.Warning(EventAuthToken, "authentication failure", withError(logFields, err))
			return false, authFailBody, AuthInfo{}
		}

		logFields.Append(fields.NewField("id", user), fields.NewField("role", schema.RoleName(role)))

		if role == schema.RoleAdmin && !a.AuthorizedAdminIP(ip) {
			a.logger.Warning(EventAuthAdminIP, "authentication failure: admin token from unauthorized address", logFields)
			return false, authFailBody, AuthInfo{}
		}
		if !slices.Contains(roles, role) {
			a.logger.Warning(EventAuthRole, "authentication failure: role not authorized", logFields)
			return false, authFailBody, AuthInfo{}
		}

		a.logger.Debug(EventAuthSuccess, "authentication success", logFields)
		return true, nil, AuthInfo{ID: user, Role: role, Authenticated: true}
	}
}

// bearer extracts the token from an Authorization header. The scheme is
// case-insensitive.
func bearer(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("Authorization header is not a bearer token")
	}
	return strings.TrimSpace(token), nil
}

func withError(f *fields.Fields, err error) interfaces.Fields {
	out := fields.NewFields(slices.Clone(f.Fields)...)
	out.Append(fields.NewField("error", err.Error()))
	return out
}

// GetAuthDetails returns the AuthInfo stored by the authentication wrapper
func GetAuthDetails(req *http.Request) AuthInfo {
	details, _ := userver.AuthDetailsFrom(req.Context()).(AuthInfo)
	return details
}

// AuthorizedAdminIP reports whether ip may use an admin token. An empty
// set admits any address.
func (a *API) AuthorizedAdminIP(ip string) bool {
	if len(a.settings.AdminIPs) == 0 {
		return true
	}
	_, ok := a.settings.AdminIPs[ip]
	return ok
}

/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package schema

// Error codes carried in ErrorInfo.Code
const (
	CodeTLSRequired          = "TlsRequired"
	CodeMethodNotAllowed     = "MethodNotAllowed"
	CodeUnsupportedMedia     = "UnsupportedMediaType"
	CodePayloadTooLarge      = "PayloadTooLarge"
	CodeClientCertificate    = "ClientCertificate"
	CodeRateLimited          = "RateLimited"
	CodeMalformedRequest     = "MalformedRequest"
	CodeMissingReplayFields  = "MissingReplayFields"
	CodeRequestExpired       = "RequestExpired"
	CodeReplayDetected       = "ReplayDetected"
	CodeSignatureInvalid     = "SignatureInvalid"
	CodeUnknownAction        = "UnknownAction"
	CodeInvalidParameter     = "InvalidParameter"
	CodeActionFailed         = "ActionFailed"
	CodeTimeout              = "Timeout"
	CodeUnhandledException   = "UnhandledException"
	CodeCanceled             = "Canceled"
	CodeInternalError        = "InternalError"
	CodeDirectoryUnavailable = "DirectoryUnavailable"
)

// Kind groups error codes by how a caller should react to them
type Kind int

const (
	KindNone Kind = iota
	// KindAdmission is a gate rejection, never retried by the server
	KindAdmission
	// KindValidation means the caller must correct and resend
	KindValidation
	// KindAction is a handler failure and may be transient
	KindAction
	// KindTimeout means the budget was exceeded; retry with backoff
	KindTimeout
	// KindUnhandled is a programming error and is always logged in full
	KindUnhandled
)

func (k Kind) String() string {
	switch k {
	case KindAdmission:
		return "admission"
	case KindValidation:
		return "validation"
	case KindAction:
		return "action"
	case KindTimeout:
		return "timeout"
	case KindUnhandled:
		return "unhandled"
	default:
		return "none"
	}
}

var codeKinds = map[string]Kind{
	CodeTLSRequired:          KindAdmission,
	CodeMethodNotAllowed:     KindAdmission,
	CodeUnsupportedMedia:     KindAdmission,
	CodePayloadTooLarge:      KindAdmission,
	CodeClientCertificate:    KindAdmission,
	CodeRateLimited:          KindAdmission,
	CodeRequestExpired:       KindAdmission,
	CodeReplayDetected:       KindAdmission,
	CodeSignatureInvalid:     KindAdmission,
	CodeMalformedRequest:     KindValidation,
	CodeMissingReplayFields:  KindValidation,
	CodeUnknownAction:        KindValidation,
	CodeInvalidParameter:     KindValidation,
	CodeActionFailed:         KindAction,
	CodeDirectoryUnavailable: KindAction,
	CodeCanceled:             KindAction,
	CodeTimeout:              KindTimeout,
	CodeUnhandledException:   KindUnhandled,
	CodeInternalError:        KindUnhandled,
}

// KindOf returns the Kind for an error code. Unknown codes are treated as
// action errors.
func KindOf(code string) Kind {
	if code == "" {
		return KindNone
	}
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindAction
}

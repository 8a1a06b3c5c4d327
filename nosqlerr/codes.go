package nosqlerr

// ErrorCode is the numeric error code carried on the wire. The mapping from
// code to exception type is authoritative: a code this SDK does not know
// about still decodes (it just maps to a generic *NoSQLException).
type ErrorCode int

const (
	CodeUnknownError ErrorCode = iota
	CodeTableNotFound
	CodeIndexNotFound
	CodeIllegalArgument
	CodeRequestSizeLimitExceeded
	CodeInvalidAuthorization
	CodeInsufficientPermission
	CodeSecurityInfoUnavailable
	CodeRetryAuthentication
	CodeWriteLimitExceeded
	CodeReadLimitExceeded
	CodeResourceExists
	CodeResourceNotFound
	CodeTableNotReady
	CodeServerError
)

func (c ErrorCode) String() string {
	switch c {
	case CodeTableNotFound:
		return "TableNotFound"
	case CodeIndexNotFound:
		return "IndexNotFound"
	case CodeIllegalArgument:
		return "IllegalArgument"
	case CodeRequestSizeLimitExceeded:
		return "RequestSizeLimitExceeded"
	case CodeInvalidAuthorization:
		return "InvalidAuthorization"
	case CodeInsufficientPermission:
		return "InsufficientPermission"
	case CodeSecurityInfoUnavailable:
		return "SecurityInfoUnavailable"
	case CodeRetryAuthentication:
		return "RetryAuthentication"
	case CodeWriteLimitExceeded:
		return "WriteLimitExceeded"
	case CodeReadLimitExceeded:
		return "ReadLimitExceeded"
	case CodeResourceExists:
		return "ResourceExists"
	case CodeResourceNotFound:
		return "ResourceNotFound"
	case CodeTableNotReady:
		return "TableNotReady"
	case CodeServerError:
		return "ServerError"
	default:
		return "UnknownError"
	}
}

// FromWire maps a server-reported (code, message) pair to its typed
// exception. New codes the SDK has never seen default to a generic
// *NoSQLException rather than failing decode.
func FromWire(code int32, message string) error {
	switch ErrorCode(code) {
	case CodeTableNotFound:
		return &TableNotFoundException{New(CodeTableNotFound, message)}
	case CodeIllegalArgument:
		return NewIllegalArgumentException("%s", message)
	case CodeRequestSizeLimitExceeded:
		return &RequestSizeLimitException{New(CodeRequestSizeLimitExceeded, message)}
	case CodeInvalidAuthorization, CodeRetryAuthentication:
		return NewAuthenticationException(message)
	case CodeSecurityInfoUnavailable:
		return NewSecurityInfoNotReadyException(message)
	case CodeWriteLimitExceeded:
		return NewWriteThrottlingException(message)
	case CodeReadLimitExceeded:
		return NewReadThrottlingException(message)
	default:
		return New(ErrorCode(code), message)
	}
}

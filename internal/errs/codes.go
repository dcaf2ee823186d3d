package errs

// Code classifies signing and certificate-lifecycle failures
type Code string

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeNoActiveCertificate Code = "NO_ACTIVE_CERTIFICATE"
	CodeCertificateExpired  Code = "CERTIFICATE_EXPIRED"
	CodeUntrustedIssuer     Code = "UNTRUSTED_ISSUER"
	CodeInvalidCredential   Code = "INVALID_CREDENTIAL"
	CodeTokenNotConnected   Code = "TOKEN_NOT_CONNECTED"
	CodeSigningFailure      Code = "SIGNING_FAILURE"
	CodeNotFound            Code = "NOT_FOUND"
	CodeNotOwner            Code = "NOT_OWNER"
	CodeInternal            Code = "INTERNAL"
)

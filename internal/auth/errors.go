package auth

// ErrorKind classifies authentication failures. All kinds map to 401.
type ErrorKind int

const (
	ErrMalformed ErrorKind = iota
	ErrInvalidSignature
	ErrExpired
	ErrIssuerMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case ErrMalformed:
		return "malformed"
	case ErrInvalidSignature:
		return "invalid_signature"
	case ErrExpired:
		return "expired"
	case ErrIssuerMismatch:
		return "issuer_mismatch"
	}
	return "unknown"
}

// Error is a terminal authentication failure.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "auth: " + e.Kind.String()
	}
	return "auth: " + e.Kind.String() + ": " + e.Detail
}

func newError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

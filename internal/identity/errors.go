package identity

import "errors"

var (
	ErrBadCredentials   = errors.New("bad credentials")
	ErrDuplicateAccount = errors.New("account already exists")
	ErrWeakSecret       = errors.New("secret too short")
	ErrMalformedEmail   = errors.New("malformed email")
)

// Kind is the closed set of identity failures shown to users.
type Kind string

const (
	KindBadCredentials   Kind = "bad_credentials"
	KindDuplicateAccount Kind = "duplicate_account"
	KindWeakSecret       Kind = "weak_secret"
	KindMalformedEmail   Kind = "malformed_email"
	KindTryAgain         Kind = "try_again"
)

// KindOf maps err to its kind. Anything unrecognised is KindTryAgain.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrBadCredentials):
		return KindBadCredentials
	case errors.Is(err, ErrDuplicateAccount):
		return KindDuplicateAccount
	case errors.Is(err, ErrWeakSecret):
		return KindWeakSecret
	case errors.Is(err, ErrMalformedEmail):
		return KindMalformedEmail
	default:
		return KindTryAgain
	}
}

// Message is the user-facing text for k.
func Message(k Kind) string {
	switch k {
	case KindBadCredentials:
		return "Wrong email or password."
	case KindDuplicateAccount:
		return "An account with this email already exists."
	case KindWeakSecret:
		return "Password must be at least 6 characters."
	case KindMalformedEmail:
		return "Enter a valid email address."
	default:
		return "Something went wrong. Please try again."
	}
}

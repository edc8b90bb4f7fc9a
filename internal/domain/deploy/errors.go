package deploy

import "errors"

var (
	ErrInvalidStatus     = errors.New("invalid event status")
	ErrInvalidTransition = errors.New("invalid event status transition")

	ErrPayloadNotObject    = errors.New("payload is not a json object")
	ErrRepositoryMissing   = errors.New("payload has no repository.full_name")
	ErrSignatureMismatch   = errors.New("signature mismatch")
	ErrInvalidMatchMode    = errors.New("invalid repository match mode")
	ErrRepositoryURL       = errors.New("repository url must start with https://github.com/")
	ErrSecretTooShort      = errors.New("secret must be at least 10 characters long")
	ErrDeployBranchMissing = errors.New("deploy branch is required when auto deploy is enabled")
)

package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate indicates a uniqueness constraint rejected the write.
	ErrDuplicate = errors.New("repository: duplicate")

	ErrDuplicateEmail    = fmt.Errorf("%w: email", ErrDuplicate)
	ErrDuplicateUsername = fmt.Errorf("%w: username", ErrDuplicate)
	ErrDuplicateProvider = fmt.Errorf("%w: provider binding", ErrDuplicate)
	ErrDuplicateToken    = fmt.Errorf("%w: token", ErrDuplicate)

	// ErrProviderAlreadyLinked indicates the account is bound to a different subject for the provider.
	ErrProviderAlreadyLinked = errors.New("repository: provider already linked to a different subject")
)

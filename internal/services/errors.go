package services

import "errors"

var (
	// ErrNotAMember fails rating writes whose author holds no membership in
	// the target group. Checked inside the writing transaction.
	ErrNotAMember = errors.New("user is not a member of the group")

	// ErrAlreadyExists reports a uniqueness violation, e.g. a duplicate group
	// membership or a second notification ledger row for the same period.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound reports that no row matched a scoped select, update or
	// delete.
	ErrNotFound = errors.New("not found")
)

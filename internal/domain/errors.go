// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist or is not visible
// to the active tenant.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates invalid caller input.
var ErrValidation = errors.New("validation failed")

// ErrInsufficientBalance is returned when a debit would take a balance below zero.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrInvalidCredentials is returned when a login identifier or password does not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrLocked is returned while a login identifier is locked out.
var ErrLocked = errors.New("account temporarily locked")

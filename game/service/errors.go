package service

import "github.com/cockroachdb/errors"

var (
	ErrClientExists    = errors.New("client already connected")
	ErrClientNotFound  = errors.New("client not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrNotInSession    = errors.New("client is not in a session")
)

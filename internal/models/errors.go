package models

import "errors"

// NotFound
var (
	ErrNotFound         = errors.New("resource not found")
	ErrStoryNotFound    = errors.New("story not found")
	ErrInstanceNotFound = errors.New("story instance not found")
	ErrNodeNotFound     = errors.New("story node not found")
)

// Forbidden
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotParticipant   = errors.New("participant is not assigned to this instance")
	ErrBotParticipantID = errors.New("participant id uses the reserved bot namespace")
	ErrChoiceNotVisible = errors.New("choice is not available to this character")
	ErrTokenInvalid     = errors.New("token is invalid")
	ErrTokenMalformed   = errors.New("token is malformed")
	ErrTokenExpired     = errors.New("token has expired")
)

// Conflict
var (
	ErrAlreadySubmitted = errors.New("choice already submitted for this node")
	ErrCharacterTaken   = errors.New("character or participant already assigned in this instance")
)

// InvalidState
var (
	ErrInstanceNotActive = errors.New("story instance is not active")
	ErrStaleNode         = errors.New("story instance is no longer on this node")
	ErrInvalidChoice     = errors.New("choice key does not exist on this node")
	ErrNodeMismatch      = errors.New("node does not belong to the instance story")
)

// ContentDefect
var (
	ErrNoVisibleChoices = errors.New("no choices visible to character")
	ErrDanglingTarget   = errors.New("choice target does not resolve to a node")
)

var (
	ErrNoAvailableCharacters = errors.New("no available characters in story")
	ErrInvalidInput          = errors.New("invalid input data")
)

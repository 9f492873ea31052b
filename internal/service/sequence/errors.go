package sequence

import "errors"

// Sentinel errors for the sequence service layer.
var (
	ErrSequenceNotFound    = errors.New("sequence not found")
	ErrSequenceEmpty       = errors.New("sequence has no schedulable steps")
	ErrTemplateNotFound    = errors.New("template not found or inactive")
	ErrContactNotFound     = errors.New("contact not found")
	ErrContactUnsubscribed = errors.New("contact has unsubscribed")
	ErrJobNotFound         = errors.New("email job not found")
)

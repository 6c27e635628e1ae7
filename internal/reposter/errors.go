package reposter

import "errors"

var (
	// ErrPublish means the publisher rejected the content. CreateJob persists nothing.
	ErrPublish = errors.New("publish failed")
	// ErrNotFound means no active job matched a stop request.
	ErrNotFound = errors.New("no active job with that id")
	// ErrEmptyContent rejects jobs without text.
	ErrEmptyContent = errors.New("job text is empty")
	// ErrContentTooLong rejects text that would not fit in a single channel post.
	ErrContentTooLong = errors.New("job text is too long")
)

// MaxContentRunes is the longest job text, in characters, posted as one message.
const MaxContentRunes = 4000

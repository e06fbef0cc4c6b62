package connection

import "errors"

var (
    ErrRejected   = errors.New("connection: rejected by peer")
    ErrAckTimeout = errors.New("connection: no answer from peer")
    ErrClosed     = errors.New("connection: manager closed")
    ErrTopicTaken = errors.New("connection: topic already published")
)

// RejectError carries the reason the accepting side gave.
type RejectError struct {
    Reason string
}

func (e *RejectError) Error() string { return ErrRejected.Error() + ": " + e.Reason }

func (e *RejectError) Unwrap() error { return ErrRejected }

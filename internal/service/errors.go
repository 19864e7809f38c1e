package service

import (
	"errors"
	"fmt"
	"log"
)

// ErrInvalid marks input rejected before it reached the backend.
var ErrInvalid = errors.New("invalid input")

// Operation errors. Every service failure wraps exactly one of these
// together with its cause, so callers can branch with errors.Is on either.
var (
	ErrFetchTickets         = errors.New("failed to fetch tickets")
	ErrFetchCustomerTickets = errors.New("failed to fetch customer tickets")
	ErrFetchTicket          = errors.New("failed to fetch ticket")
	ErrCreateTicket         = errors.New("failed to create ticket")
	ErrUpdateStatus         = errors.New("failed to update ticket status")
	ErrSearchTickets        = errors.New("failed to search tickets")
	ErrFilterTickets        = errors.New("failed to filter tickets")
	ErrFetchMessages        = errors.New("failed to fetch messages")
	ErrSendMessage          = errors.New("failed to send message")
	ErrUploadFile           = errors.New("failed to upload file")
	ErrUploadFiles          = errors.New("failed to upload files")
	ErrDeleteFile           = errors.New("failed to delete file")
)

func fail(op, cause error) error {
	log.Printf("%v: %v", op, cause)
	return fmt.Errorf("%w: %w", op, cause)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

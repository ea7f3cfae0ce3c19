package util

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tasksync/internal/model"
	"tasksync/internal/store"
	"tasksync/pkg/circuitbreaker"
	"tasksync/pkg/rbac"
)

// Failure reasons surfaced to users and metrics.
const (
	ReasonForbidden   = "forbidden"
	ReasonInvalid     = "invalid"
	ReasonNotFound    = "not_found"
	ReasonConflict    = "conflict"
	ReasonTimeout     = "timeout"
	ReasonCanceled    = "canceled"
	ReasonUnavailable = "unavailable"
	ReasonNetwork     = "network_error"
	ReasonUnknown     = "unknown_error"
)

// ClassifyError maps a mutation or read failure to a short reason.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	var denied *rbac.PermissionDeniedError
	if errors.As(err, &denied) {
		return ReasonForbidden
	}
	if errors.Is(err, model.ErrInvalidTask) || errors.Is(err, model.ErrInvalidProfile) {
		return ReasonInvalid
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return ReasonNotFound
	}
	if errors.Is(err, store.ErrConflict) {
		return ReasonConflict
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ReasonConflict
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return ReasonUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ReasonNetwork
	}

	return ReasonUnknown
}

// UserMessage renders a reason as a short user-facing sentence.
func UserMessage(reason string) string {
	switch reason {
	case ReasonForbidden:
		return "You are not allowed to make this change."
	case ReasonInvalid:
		return "The change was rejected as invalid."
	case ReasonNotFound:
		return "The record no longer exists."
	case ReasonConflict:
		return "The change conflicts with existing data."
	case ReasonTimeout, ReasonNetwork, ReasonUnavailable:
		return "The server could not be reached. Please try again."
	case ReasonCanceled:
		return "The change was cancelled."
	default:
		return "The change could not be saved. Please try again."
	}
}

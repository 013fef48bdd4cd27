// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package sealerr defines the error taxonomy shared by every component of
// the secure object store. Each kind is a zeebo/errs class; callers
// type-switch on class membership via errors.Is/errs.Is rather than on
// error strings.
package sealerr

import "github.com/zeebo/errs"

var (
	// NotConfigured: an option was requested but its collaborator
	// (encoder, queue, id generator) is absent.
	NotConfigured = errs.Class("not configured")

	// InvariantViolation: stored metadata declares an algorithm the
	// caller cannot satisfy, or a typed object's type does not match.
	InvariantViolation = errs.Class("invariant violation")

	// Conflict is returned as a value ({ok:false}) by optimistic writes,
	// never raised as an error; the class exists so tests and logging
	// can still classify it uniformly when it is wrapped.
	Conflict = errs.Class("conflict")

	// Locked: a write targeted a location leased by another caller.
	Locked = errs.Class("locked")

	// Cancelled: the caller's context was done at a suspension point.
	Cancelled = errs.Class("cancelled")

	// BackendFailure: transport, authorization, or storage error from
	// the backend. The underlying cause is always wrapped, never lost.
	BackendFailure = errs.Class("backend failure")

	// RangeAllocationFailed: the unique-id generator exceeded its retry
	// budget trying to claim a range.
	RangeAllocationFailed = errs.Class("range allocation failed")
)

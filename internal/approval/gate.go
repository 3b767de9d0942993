// Package approval provides the predicate that guards every durable write.
//
// Gates are synchronous and perform no I/O. Stores call Check exactly once per
// turn, after generation and before any mutation, so a gate sees message and
// output together.
package approval

import (
	"errors"
	"fmt"

	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

// ErrApprovalDenied is returned when a gate rejects a record. It is distinct
// from infrastructure failures so callers can abandon instead of retrying.
var ErrApprovalDenied = errors.New("approval denied")

// Gate decides whether a record may be persisted.
type Gate interface {
	// Name returns the gate identifier used in logs.
	Name() string

	// Approve reports whether rec may be written.
	Approve(rec lifecycle.Record) bool
}

// Check evaluates gate against rec and returns ErrApprovalDenied on rejection.
// A nil gate falls back to FieldGate.
func Check(gate Gate, rec lifecycle.Record) error {
	if gate == nil {
		gate = FieldGate{}
	}
	if gate.Approve(rec) {
		return nil
	}
	if rec.Approval.Reason != "" {
		return fmt.Errorf("%w by %s: %s", ErrApprovalDenied, gate.Name(), rec.Approval.Reason)
	}
	return fmt.Errorf("%w by %s", ErrApprovalDenied, gate.Name())
}

// FieldGate approves records whose Approval.Approved flag is set.
type FieldGate struct{}

// Name returns the gate identifier.
func (FieldGate) Name() string { return "approval-field" }

// Approve returns rec.Approval.Approved.
func (FieldGate) Approve(rec lifecycle.Record) bool {
	return rec.Approval.Approved
}

// Func adapts a plain function into a Gate.
type Func struct {
	ID string
	Fn func(rec lifecycle.Record) bool
}

// Name returns the gate identifier.
func (f Func) Name() string {
	if f.ID == "" {
		return "approval-func"
	}
	return f.ID
}

// Approve calls the wrapped function. A nil function denies.
func (f Func) Approve(rec lifecycle.Record) bool {
	if f.Fn == nil {
		return false
	}
	return f.Fn(rec)
}

type allGate []Gate

// All returns a gate that approves only when every gate approves.
func All(gates ...Gate) Gate {
	return allGate(gates)
}

func (a allGate) Name() string { return "approval-all" }

func (a allGate) Approve(rec lifecycle.Record) bool {
	for _, g := range a {
		if !g.Approve(rec) {
			return false
		}
	}
	return true
}

type allowAll struct{}

// AllowAll approves every record. Intended for tooling and tests.
var AllowAll Gate = allowAll{}

func (allowAll) Name() string { return "allow-all" }
func (allowAll) Approve(lifecycle.Record) bool { return true }

// RequireOutput denies records that reached a durable write without a
// generated reply.
var RequireOutput Gate = Func{
	ID: "require-output",
	Fn: func(rec lifecycle.Record) bool { return rec.Output != "" },
}

// Package engine implements disbursement settlement: building schedules from
// an entitlement, reconciling them against money already paid, rolling back
// superseded assessments, confirming enrolment and staging schedules for
// payment.
//
// UNITS OF WORK:
//
// Every exported operation runs in exactly one store.WithTx unit of work
// bounded by the policy's transaction timeout. Nothing is written outside a
// transaction, and any error rolls back everything the operation did,
// including nested steps such as the rollback run by CreateSchedules.
//
// LOCKING:
//
// CreateSchedules locks the assessment row. Document numbers come from a
// locked sequence row, so COE confirmations are serialized on it. Builder
// calls for different assessments of the same application are not ordered
// by the engine; callers must serialize them.
//
// ERRORS:
//
// Precondition failures are returned as *Error with a stable Code and are
// detected before anything is written. Infrastructure failures and store
// invariant breaches (store.ErrInvariant) are returned wrapped and are never
// converted into a precondition code.
package engine

// Package harness runs disbursement scenarios end to end against a fresh
// store and checks the outcome.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: reassessment_overaward
//	description: "Lowering a paid loan records the difference as debt"
//	now: 2024-01-15T09:00:00Z
//	setup:
//	  applications:
//	    - ref: app
//	      student_id: 1
//	      application_number: APP-1
//	      status: In Progress
//	steps:
//	  - action: create_schedules
//	    application: app
//	    schedules:
//	      - disbursement_date: 2024-02-01
//	        negotiated_expiry_date: 2024-02-11
//	        values:
//	          - { code: CSLF, type: Canada Loan, amount: 1200 }
//	  - action: confirm
//	    application: app
//	    schedule: 0
//	    expect_error: FIRST_COE_NOT_COMPLETE
//	assertions:
//	  - type: overaward_balance
//	    student_id: 1
//	    code: CSLF
//	    equals: "200"
//
// Every application gets an original assessment named after its ref.
// A reassess step adds a new current assessment, optionally named by ref.
// Steps address schedules by their index in date order within an
// assessment, the application's current one unless assessment is given.
// Dates must be unquoted so YAML reads them as timestamps.
//
// # Step Actions
//
//   - create_schedules, reassess, rollback, set_status
//   - confirm, decline, prepare, mark_sent
//   - manual_overaward
//
// A step without expect_error must succeed. A step with expect_error must
// fail with exactly that code. Errors that are not precondition failures
// abort the scenario.
//
// # Assertion Types
//
//   - overaward_balance: a student's balance for one code
//   - value: one field of an award line
//   - schedule: COE status, schedule status or document number
//   - application_status: the application's status
//   - final_state: a raw row of any table, subset-matched
//   - trace_count, trace_order: the steps that ran and how they ended
//
// # Deterministic Testing
//
// Scenarios run on an in-memory SQLite database with a fixed wall clock
// (testutil.FixedClock) and sequential operation ids, so the trace of a
// scenario is byte-identical across runs and can be golden-compared.
package harness

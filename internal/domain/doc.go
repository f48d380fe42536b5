// Package domain defines the disbursement data model shared by the store,
// the settlement engine, and the CLI.
//
// All monetary amounts are exact decimals (github.com/shopspring/decimal).
// Floating point never touches an amount, including in serialization: the
// canonical JSON encoder rejects floats and writes decimals as strings.
//
// # Invariants
//
//   - A value line never withholds more than its entitlement:
//     DisbursedAmountSubtracted + OverawardAmountSubtracted <= ValueAmount.
//   - Schedule status only moves forward:
//     Pending -> {Cancelled | Ready to send} -> Sent.
//   - Overaward entries are append-only. Reversal is a state on the entry,
//     never a delete.
package domain

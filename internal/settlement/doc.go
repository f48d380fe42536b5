// Package settlement distributes a debit across an ordered list of award
// lines.
//
// Lines are consumed greedily in the order given, which callers arrange to
// be chronological (earliest disbursement date first). Each line absorbs as
// much of the remaining debit as its capacity allows. Whatever the lines
// cannot absorb is returned to the caller, which decides whether it becomes
// a debt record.
//
// The same algorithm serves two purposes through the Line adapters:
// withholding money already disbursed by a prior version of the application
// (DisbursedLines) and recovering an outstanding overaward (OverawardLines).
package settlement

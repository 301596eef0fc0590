// Package selector derives the run's ordered work queue from the account
// source and the ledger.
package selector

import (
	"autologin/internal/errclass"
	"autologin/internal/ledger"
)

// Policy carries the selection knobs.
type Policy struct {
	// MaxAttempts is the per-account attempt cap used to decide when a
	// capped error kind becomes fatal. Zero disables the cap.
	MaxAttempts int
}

// BuildQueue returns the account ids to process this run, in order:
//
//  1. ids with status ok are excluded;
//  2. ids whose last failure is fatal (per errclass.Retryable) are excluded;
//  3. previously failed but retryable ids come first, never-attempted ids
//     after, each tier keeping the account-source order;
//  4. duplicate ids collapse to their first occurrence.
//
// The result is a pure function of its inputs: re-deriving from the same
// ledger state yields the same ordering.
func BuildQueue(ids []string, store *ledger.Store, policy Policy) []string {
	var retry, fresh []string
	seen := make(map[string]bool, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		rec := store.Get(id)
		switch rec.Status {
		case ledger.StatusOK:
			continue
		case ledger.StatusError:
			if !errclass.Retryable(rec.LastError, rec.Attempts, policy.MaxAttempts) {
				continue
			}
			retry = append(retry, id)
		default:
			fresh = append(fresh, id)
		}
	}

	return append(retry, fresh...)
}

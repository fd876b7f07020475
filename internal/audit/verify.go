package audit

import (
	"context"
)

// RangeReader is the slice of the record store the verifier needs.
type RangeReader interface {
	Range(ctx context.Context, from, to uint64, limit int) ([]*ImmutableAuditRecord, error)
	MaxSequence(ctx context.Context) (uint64, error)
}

// VerifyReport is the outcome of a stored-chain walk.
type VerifyReport struct {
	OK               bool    `json:"ok"`
	RecordsChecked   int     `json:"records_checked"`
	BrokenAtSequence *uint64 `json:"broken_at_sequence,omitempty"`
}

const verifyBatchSize = 500

// VerifyStored re-walks the persisted chain between the given sequence
// numbers in batches, carrying the last record of each batch forward so
// linkage across batch boundaries is checked too. A from or to of zero
// means "start of chain" and "current head" respectively.
//
// Verification is only meaningful over ranges the retention sweep has
// not touched: a sanctioned expiry deletion is indistinguishable from
// tampering once the record is gone.
func VerifyStored(ctx context.Context, chain *Chain, store RangeReader, from, to uint64) (*VerifyReport, error) {
	if from == 0 {
		from = 1
	}
	if to == 0 {
		max, err := store.MaxSequence(ctx)
		if err != nil {
			return nil, err
		}
		to = max
	}

	report := &VerifyReport{OK: true}
	var carry *ImmutableAuditRecord
	next := from

	for next <= to {
		batch, err := store.Range(ctx, next, to, verifyBatchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		records := batch
		offset := 0
		if carry != nil {
			records = append([]*ImmutableAuditRecord{carry}, batch...)
			offset = 1
		}

		ok, at := chain.VerifyChain(records)
		if !ok {
			broken := records[*at].SequenceNumber
			report.OK = false
			report.BrokenAtSequence = &broken
			report.RecordsChecked += *at - offset + 1
			return report, nil
		}

		report.RecordsChecked += len(batch)
		carry = batch[len(batch)-1]
		next = carry.SequenceNumber + 1
	}

	return report, nil
}

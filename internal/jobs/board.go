package jobs

import (
	"context"
	"fmt"

	"github.com/huntred/flowbot/internal/storage"
)

// Board exposes interview slots of the pool on top of a slot ledger.
type Board struct {
	pool   *Pool
	ledger storage.SlotLedger
}

func NewBoard(pool *Pool, ledger storage.SlotLedger) *Board {
	return &Board{pool: pool, ledger: ledger}
}

// Posting returns the posting with the given id.
func (b *Board) Posting(jobID string) (Posting, error) {
	posting, ok := b.pool.Get(jobID)
	if !ok {
		return Posting{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return posting, nil
}

// AvailableSlots returns the indexes of the job's unbooked slots in order.
func (b *Board) AvailableSlots(ctx context.Context, jobID string) ([]int, error) {
	posting, err := b.Posting(jobID)
	if err != nil {
		return nil, err
	}
	if len(posting.Slots) == 0 {
		return []int{}, nil
	}

	booked, err := b.ledger.Booked(ctx, jobID, len(posting.Slots))
	if err != nil {
		return nil, err
	}

	free := make([]int, 0, len(posting.Slots))
	for i, taken := range booked {
		if !taken {
			free = append(free, i)
		}
	}
	return free, nil
}

// Book takes slot index of the job for holder and returns the slot label.
// A slot somebody else holds yields storage.ErrSlotTaken.
func (b *Board) Book(ctx context.Context, jobID string, index int, holder string) (string, error) {
	posting, err := b.Posting(jobID)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(posting.Slots) {
		return "", fmt.Errorf("%w: %d of %d", ErrSlotOutOfRange, index, len(posting.Slots))
	}

	if err := b.ledger.Book(ctx, jobID, index, holder); err != nil {
		return "", err
	}
	return posting.Slots[index], nil
}

// Release undoes a booking made by holder.
func (b *Board) Release(ctx context.Context, jobID string, index int, holder string) error {
	return b.ledger.Release(ctx, jobID, index, holder)
}

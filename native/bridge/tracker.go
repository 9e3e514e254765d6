package bridge

import (
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"xbchain/core/events"
	"xbchain/observability"
)

// SettlementDispatcher processes the transactions recorded in a tracked
// header: deposits and withdrawal finishes once the header confirms, cleanup
// when the header is pruned unconfirmed.
type SettlementDispatcher interface {
	HandleTx(txid chainhash.Hash) error
	RemoveUnusedTx(txid chainhash.Hash)
}

// NoopDispatcher satisfies SettlementDispatcher while doing nothing.
type NoopDispatcher struct{}

func (NoopDispatcher) HandleTx(chainhash.Hash) error { return nil }
func (NoopDispatcher) RemoveUnusedTx(chainhash.Hash) {}

// Tracker validates candidate foreign headers, advances the rolling
// confirmation checkpoint, and prunes history outside the reserved window.
type Tracker struct {
	store      *HeaderStore
	dispatcher SettlementDispatcher
	emitter    events.Emitter
	logger     *slog.Logger
}

// NewTracker creates a tracker over the given header store with a no-op
// dispatcher and emitter. Callers override them via the setters.
func NewTracker(store *HeaderStore) *Tracker {
	return &Tracker{
		store:      store,
		dispatcher: NoopDispatcher{},
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
	}
}

// SetDispatcher configures the settlement dispatcher invoked for confirmed
// and pruned transactions.
func (t *Tracker) SetDispatcher(dispatcher SettlementDispatcher) {
	if dispatcher == nil {
		t.dispatcher = NoopDispatcher{}
		return
	}
	t.dispatcher = dispatcher
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (t *Tracker) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		t.emitter = events.NoopEmitter{}
		return
	}
	t.emitter = emitter
}

// SetLogger overrides the structured logger.
func (t *Tracker) SetLogger(logger *slog.Logger) {
	if logger == nil {
		t.logger = slog.Default()
		return
	}
	t.logger = logger
}

// Validate checks a candidate header against the stored chain. It performs no
// storage mutation; insertion and best-tip advancement are the caller's job.
//
//	     confirmed = best_height - (confirmations - 1)
//	          |--------- confirmations = 6 ------------|
//	b(prev) - b(confirm) - b - b - b - b - b(best)
//	     \    b_fork(ancient fork)
func (t *Tracker) Validate(header *wire.BlockHeader) (*HeaderRecord, error) {
	prev, ok, err := t.store.Header(header.PrevBlock)
	if err != nil {
		return nil, err
	}
	if !ok {
		t.logger.Error("candidate parent not found", "parent", header.PrevBlock.String())
		return nil, ErrUnknownParent
	}

	bestHash, ok, err := t.store.BestTip()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	best, ok, err := t.store.Header(bestHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		t.logger.Error("best tip record missing", "best", bestHash.String())
		return nil, ErrNotFound
	}

	confirmations, err := t.store.Confirmations()
	if err != nil {
		return nil, err
	}
	height := prev.Height + 1
	// height <= best_height - (confirmations - 1), rewritten to avoid
	// underflow near genesis
	if height+uint64(confirmations)-1 <= best.Height {
		t.logger.Error("fork older than confirmation window",
			"height", height, "best_height", best.Height, "confirmations", confirmations)
		return nil, ErrAncientFork
	}
	return &HeaderRecord{Header: *header, Height: height}, nil
}

// AdvanceConfirmation walks back from the newly inserted header to the record
// that the new tip pushes across the confirmation threshold, settles its
// transactions on the false-to-true transition, and returns the checkpoint
// hash and height. When the chain is still shorter than the window the
// genesis pair is returned and nothing is marked.
func (t *Tracker) AdvanceConfirmation(newly *HeaderRecord) (chainhash.Hash, uint64, error) {
	confirmations, err := t.store.Confirmations()
	if err != nil {
		return chainhash.Hash{}, 0, err
	}

	// Walk confirmations-2 parents starting from the direct parent; for
	// K <= 2 the checkpoint is the parent itself.
	prevHash := newly.Header.PrevBlock
	for i := uint32(1); i+1 < confirmations; i++ {
		current, ok, err := t.store.Header(prevHash)
		if err != nil {
			return chainhash.Hash{}, 0, err
		}
		if !ok {
			// window is shorter than K near genesis
			t.logger.Info("confirmation walk stopped early",
				"missing", prevHash.String(), "steps", i)
			break
		}
		prevHash = current.Header.PrevBlock
	}

	record, ok, err := t.store.Header(prevHash)
	if err != nil {
		return chainhash.Hash{}, 0, err
	}
	if !ok {
		genesisHash, genesisHeight, err := t.store.GenesisInfo()
		if err != nil {
			return chainhash.Hash{}, 0, err
		}
		t.logger.Info("checkpoint before genesis, using genesis info",
			"missing", prevHash.String())
		return genesisHash, genesisHeight, nil
	}

	// settle only on the first transition; a sibling tip may designate the
	// same checkpoint again
	if !record.Confirmed {
		t.handleConfirmed(record)
		record.Confirmed = true
		if err := t.store.PutHeader(record); err != nil {
			return chainhash.Hash{}, 0, err
		}
		t.emitter.Emit(events.HeaderConfirmed{Hash: prevHash, Height: record.Height})
		observability.Bridge().HeadersConfirmed.Inc()
	}
	return prevHash, record.Height, nil
}

// handleConfirmed dispatches every transaction recorded in the confirmed
// header. A failing transaction is logged and skipped; one malformed
// settlement must not block the confirmation or its siblings.
func (t *Tracker) handleConfirmed(record *HeaderRecord) {
	t.logger.Debug("header confirmed",
		"height", record.Height, "hash", record.Hash().String(), "txs", len(record.TxIDs))
	for _, txid := range record.TxIDs {
		if err := t.dispatcher.HandleTx(txid); err != nil {
			observability.Bridge().SettlementFailures.Inc()
			t.logger.Error("settlement failed", "txid", txid.String(), "err", err)
		}
	}
}

// FindCheckpoint walks back from the given hash looking for the nearest
// confirmed record within the confirmation window, falling back to the record
// at the final hash and then to genesis.
func (t *Tracker) FindCheckpoint(hash chainhash.Hash) (*HeaderRecord, error) {
	confirmations, err := t.store.Confirmations()
	if err != nil {
		return nil, err
	}
	current := hash
	for i := uint32(0); i+1 < confirmations; i++ {
		record, ok, err := t.store.Header(current)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if record.Confirmed {
			return record, nil
		}
		current = record.Header.PrevBlock
	}

	record, ok, err := t.store.Header(current)
	if err != nil {
		return nil, err
	}
	if ok {
		return record, nil
	}
	genesisHash, _, err := t.store.GenesisInfo()
	if err != nil {
		return nil, err
	}
	record, ok, err = t.store.Header(genesisHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("bridge: genesis header record missing")
	}
	return record, nil
}

// Prune drops every record at the height falling out of the reserved window
// behind the newly inserted header, notifying the dispatcher about the
// transactions it will never settle. Must run after confirmation so settlement
// sees the header first.
func (t *Tracker) Prune(newly *HeaderRecord) error {
	reserved, err := t.store.ReservedWindow()
	if err != nil {
		return err
	}
	if newly.Height <= uint64(reserved) {
		return nil
	}
	del := newly.Height - uint64(reserved)
	hashes, err := t.store.HashesAtHeight(del)
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		record, ok, err := t.store.Header(hash)
		if err != nil {
			return err
		}
		if ok {
			for _, txid := range record.TxIDs {
				t.dispatcher.RemoveUnusedTx(txid)
			}
		}
		if err := t.store.DeleteHeader(hash); err != nil {
			return err
		}
		observability.Bridge().HeadersPruned.Inc()
		t.logger.Debug("pruned old header", "height", del, "hash", hash.String())
	}
	return t.store.ClearHeight(del)
}

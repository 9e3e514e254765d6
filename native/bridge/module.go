package bridge

import (
	"log/slog"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"xbchain/core/events"
	"xbchain/native/assets"
	"xbchain/observability"
)

// ModuleState is the per-transition store context the module operates on. On
// top of the plain KV surface it carries the commit boundary: every
// dispatchable either commits all of its writes or discards them.
type ModuleState interface {
	Storage
	Commit() error
	Discard()
}

// ChainSelector decides whether an accepted header becomes the new best tip.
// The selection policy for the foreign chain is a collaborator concern; the
// tracker itself only reads the resulting pointer.
type ChainSelector interface {
	IsNewBest(candidate, currentBest *HeaderRecord) bool
}

// LongestChain advances the tip to any strictly higher header.
type LongestChain struct{}

// IsNewBest implements the ChainSelector interface.
func (LongestChain) IsNewBest(candidate, currentBest *HeaderRecord) bool {
	return candidate.Height > currentBest.Height
}

// Module is the dispatchable surface of the bridge settlement core. It wires
// the header chain tracker and the withdrawal ledger to the embedding
// transaction layer: inputs arrive already structured, and every entry point
// is atomic against the underlying store.
type Module struct {
	state       ModuleState
	store       *HeaderStore
	tracker     *Tracker
	withdrawals *WithdrawalLedger
	assets      *assets.Ledger
	selector    ChainSelector
	emitter     events.Emitter
	logger      *slog.Logger
	nowFn       func() int64
}

// NewModule creates a bridge module over the provided state context with
// no-op collaborators. Callers override them via the setters before
// processing transactions.
func NewModule(state ModuleState) *Module {
	assetLedger := assets.NewLedger(state)
	store := NewHeaderStore(state)
	m := &Module{
		state:       state,
		store:       store,
		tracker:     NewTracker(store),
		withdrawals: NewWithdrawalLedger(state, assetLedger),
		assets:      assetLedger,
		selector:    LongestChain{},
		emitter:     events.NoopEmitter{},
		logger:      slog.Default(),
		nowFn:       func() int64 { return time.Now().Unix() },
	}
	return m
}

// Assets exposes the module's asset ledger for genesis seeding and queries.
func (m *Module) Assets() *assets.Ledger { return m.assets }

// HeaderStore exposes the underlying header store for collaborators.
func (m *Module) HeaderStore() *HeaderStore { return m.store }

// Tracker exposes the header chain tracker for collaborators.
func (m *Module) Tracker() *Tracker { return m.tracker }

// SetDispatcher configures the settlement dispatcher invoked once per
// transaction recorded in a confirmed header.
func (m *Module) SetDispatcher(dispatcher SettlementDispatcher) {
	m.tracker.SetDispatcher(dispatcher)
}

// SetSelector configures the best-chain selection collaborator. Passing nil
// resets to the longest-chain default.
func (m *Module) SetSelector(selector ChainSelector) {
	if selector == nil {
		m.selector = LongestChain{}
		return
	}
	m.selector = selector
}

// SetAddressValidator configures the destination format checker.
func (m *Module) SetAddressValidator(checker AddressValidator) {
	m.withdrawals.SetAddressValidator(checker)
}

// SetEmitter configures the event emitter used across the module. Passing nil
// resets to a no-op.
func (m *Module) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
	m.tracker.SetEmitter(emitter)
	m.withdrawals.SetEmitter(emitter)
}

// SetLogger overrides the structured logger.
func (m *Module) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	m.logger = logger
	m.tracker.SetLogger(logger)
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (m *Module) SetNowFunc(now func() int64) {
	if now == nil {
		m.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	m.nowFn = now
}

// InitGenesis seeds the header store with the externally fixed genesis header
// and the tracking constants.
func (m *Module) InitGenesis(genesis *wire.BlockHeader, height uint64, confirmations, reserved uint32) error {
	if err := m.store.Initialize(genesis, height, confirmations, reserved); err != nil {
		m.state.Discard()
		return err
	}
	return m.state.Commit()
}

// PushHeader validates and accepts a candidate foreign header, advances the
// confirmation checkpoint, and prunes history outside the reserved window.
// Confirmation runs before pruning so settlement never chases deleted
// records. Any chain error discards every tentative write.
func (m *Module) PushHeader(header *wire.BlockHeader) (chainhash.Hash, uint64, error) {
	checkpoint, height, err := m.pushHeader(header)
	if err != nil {
		m.state.Discard()
		return checkpoint, height, err
	}
	if err := m.state.Commit(); err != nil {
		return checkpoint, height, err
	}
	observability.Bridge().HeadersAccepted.Inc()
	return checkpoint, height, nil
}

func (m *Module) pushHeader(header *wire.BlockHeader) (chainhash.Hash, uint64, error) {
	hash := header.BlockHash()
	if _, ok, err := m.store.Header(hash); err != nil {
		return chainhash.Hash{}, 0, err
	} else if ok {
		return chainhash.Hash{}, 0, ErrHeaderExists
	}

	record, err := m.tracker.Validate(header)
	if err != nil {
		return chainhash.Hash{}, 0, err
	}
	if err := m.store.PutHeader(record); err != nil {
		return chainhash.Hash{}, 0, err
	}
	if err := m.store.AddHashAtHeight(record.Height, hash); err != nil {
		return chainhash.Hash{}, 0, err
	}
	if err := m.advanceBest(record); err != nil {
		return chainhash.Hash{}, 0, err
	}

	checkpoint, height, err := m.tracker.AdvanceConfirmation(record)
	if err != nil {
		return chainhash.Hash{}, 0, err
	}
	if err := m.tracker.Prune(record); err != nil {
		return chainhash.Hash{}, 0, err
	}
	m.logger.Debug("accepted foreign header",
		"hash", hash.String(), "height", record.Height,
		"checkpoint", checkpoint.String(), "checkpoint_height", height)
	return checkpoint, height, nil
}

func (m *Module) advanceBest(record *HeaderRecord) error {
	bestHash, ok, err := m.store.BestTip()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	best, ok, err := m.store.Header(bestHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if m.selector.IsNewBest(record, best) {
		return m.store.SetBestTip(record.Hash())
	}
	return nil
}

// Withdraw submits a withdrawal application for the caller, locking the
// amount until the foreign transfer settles or the application is revoked.
func (m *Module) Withdraw(applicant [20]byte, token string, amount *big.Int, address string, memo []byte) (uint32, error) {
	id, err := m.withdrawals.Submit(applicant, token, amount, address, memo, uint64(m.nowFn()))
	if err != nil {
		m.state.Discard()
		return 0, err
	}
	if err := m.state.Commit(); err != nil {
		return 0, err
	}
	observability.Bridge().WithdrawalsPending.Inc()
	return id, nil
}

// RevokeWithdraw cancels a pending application and returns the locked funds.
// Only the original applicant may revoke.
func (m *Module) RevokeWithdraw(caller [20]byte, id uint32) error {
	if err := m.revokeWithdraw(caller, id); err != nil {
		m.state.Discard()
		return err
	}
	if err := m.state.Commit(); err != nil {
		return err
	}
	observability.Bridge().WithdrawalsPending.Dec()
	return nil
}

func (m *Module) revokeWithdraw(caller [20]byte, id uint32) error {
	app, ok, err := m.withdrawals.Application(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrApplicationNotFound
	}
	if app.Applicant != caller {
		return ErrNotApplicant
	}
	return m.withdrawals.Finish(id, false)
}

// FinishWithdrawal settles a pending application on behalf of the settlement
// dispatcher once the underlying foreign transaction is confirmed or
// definitively rejected.
func (m *Module) FinishWithdrawal(id uint32, success bool) error {
	if err := m.withdrawals.Finish(id, success); err != nil {
		m.state.Discard()
		return err
	}
	if err := m.state.Commit(); err != nil {
		return err
	}
	observability.Bridge().WithdrawalsPending.Dec()
	return nil
}

// Deposit credits a bridged asset for a confirmed foreign deposit. The native
// token cannot be deposited through the bridge.
func (m *Module) Deposit(recipient [20]byte, token string, amount *big.Int) error {
	if err := m.deposit(recipient, token, amount); err != nil {
		m.state.Discard()
		return err
	}
	return m.state.Commit()
}

func (m *Module) deposit(recipient [20]byte, token string, amount *big.Int) error {
	token = assets.NormalizeToken(token)
	if token == assets.NativeToken {
		return ErrTokenNotWithdrawable
	}
	if _, err := m.assets.GetAsset(token); err != nil {
		return err
	}
	if err := m.assets.Issue(token, recipient, amount); err != nil {
		return err
	}
	m.emitter.Emit(events.BridgeDeposit{Recipient: recipient, Token: token, Amount: new(big.Int).Set(amount)})
	return nil
}

// PendingWithdrawals lists up to maxCount pending application ids of the
// chain partition, oldest first.
func (m *Module) PendingWithdrawals(chain assets.Chain, maxCount uint32) ([]uint32, error) {
	return m.withdrawals.ListPending(chain, maxCount)
}

// AllWithdrawals lists every pending application of the chain partition,
// oldest first.
func (m *Module) AllWithdrawals(chain assets.Chain) ([]Application, error) {
	return m.withdrawals.ListAll(chain)
}

// Withdrawals exposes the withdrawal ledger for collaborators and tests.
func (m *Module) Withdrawals() *WithdrawalLedger { return m.withdrawals }

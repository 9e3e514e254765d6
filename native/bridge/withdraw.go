package bridge

import (
	"fmt"
	"math/big"

	"xbchain/core/events"
	"xbchain/native/assets"
)

var (
	withdrawNodePrefix = []byte("bridge/withdraw/node/")
	withdrawHeadPrefix = []byte("bridge/withdraw/head/")
	withdrawTailPrefix = []byte("bridge/withdraw/tail/")
	withdrawSerialKey  = []byte("bridge/withdraw/serial")
)

// WithdrawalLedger keeps the pending withdrawal applications as a persistent
// doubly-linked list, one partition per settlement chain, and drives the
// lock/unlock/destroy state machine of the reserved funds. The store has no
// ordered collection, so ordering lives in explicit prev/next ids plus
// per-partition head and tail pointers.
type WithdrawalLedger struct {
	state   Storage
	assets  *assets.Ledger
	checker AddressValidator
	emitter events.Emitter
}

// NewWithdrawalLedger creates a withdrawal ledger bound to the provided state
// backend and asset ledger.
func NewWithdrawalLedger(state Storage, assetLedger *assets.Ledger) *WithdrawalLedger {
	return &WithdrawalLedger{
		state:   state,
		assets:  assetLedger,
		checker: NewBitcoinAddressValidator(nil),
		emitter: events.NoopEmitter{},
	}
}

// SetAddressValidator configures the per-chain destination format checker.
func (l *WithdrawalLedger) SetAddressValidator(checker AddressValidator) {
	if checker == nil {
		l.checker = NewBitcoinAddressValidator(nil)
		return
	}
	l.checker = checker
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (l *WithdrawalLedger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func withdrawNodeKey(id uint32) []byte {
	return append(append([]byte(nil), withdrawNodePrefix...), fmt.Sprintf("%d", id)...)
}

func withdrawHeadKey(chain assets.Chain) []byte {
	return append(append([]byte(nil), withdrawHeadPrefix...), chain...)
}

func withdrawTailKey(chain assets.Chain) []byte {
	return append(append([]byte(nil), withdrawTailPrefix...), chain...)
}

// Submit validates and enqueues a withdrawal application, locking the amount
// in the applicant's reserved-withdrawal bucket. Returns the assigned serial
// id.
func (l *WithdrawalLedger) Submit(applicant [20]byte, token string, amount *big.Int, address string, memo []byte, now uint64) (uint32, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	token = assets.NormalizeToken(token)
	if token == assets.NativeToken {
		return 0, ErrTokenNotWithdrawable
	}
	asset, err := l.assets.GetAsset(token)
	if err != nil {
		return 0, err
	}
	if asset.Chain == assets.ChainNative {
		return 0, ErrTokenNotWithdrawable
	}
	if err := l.checker.Check(token, address); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAddressInvalid, err)
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(asset.MinWithdrawal) < 0 {
		return 0, ErrBelowMinimum
	}
	free, err := l.assets.FreeBalance(token, applicant)
	if err != nil {
		return 0, err
	}
	if free.Cmp(amount) < 0 {
		return 0, ErrInsufficientFreeBalance
	}

	id, err := l.serial()
	if err != nil {
		return 0, err
	}
	node := &listNode{App: Application{
		ID:        id,
		Applicant: applicant,
		Token:     token,
		Amount:    new(big.Int).Set(amount),
		Address:   address,
		Memo:      memo,
		CreatedAt: now,
	}}

	// reserve the funds, wait for settlement to destroy or return them
	if err := l.assets.Move(token, applicant, assets.BucketFree, assets.BucketReservedWithdrawal, amount); err != nil {
		return 0, err
	}
	if err := l.appendNode(asset.Chain, node); err != nil {
		return 0, err
	}
	// serial counter wraps at the u32 boundary instead of erroring
	if err := l.state.KVPut(withdrawSerialKey, id+1); err != nil {
		return 0, err
	}

	l.emitter.Emit(events.WithdrawalApplied{
		ID:        id,
		Applicant: applicant,
		Chain:     string(asset.Chain),
		Token:     token,
		Amount:    new(big.Int).Set(amount),
		Address:   address,
		Memo:      memo,
		CreatedAt: now,
	})
	return id, nil
}

// Finish removes a pending application and releases its funds lock exactly
// once: destroyed when the foreign transfer succeeded, returned to the free
// bucket otherwise.
func (l *WithdrawalLedger) Finish(id uint32, success bool) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	node, ok, err := l.node(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrApplicationNotFound
	}
	asset, err := l.assets.GetAsset(node.App.Token)
	if err != nil {
		return err
	}
	if err := l.unlinkNode(asset.Chain, node); err != nil {
		return err
	}
	if err := l.state.KVDelete(withdrawNodeKey(id)); err != nil {
		return err
	}

	if success {
		err = l.assets.Destroy(node.App.Token, node.App.Applicant, node.App.Amount)
	} else {
		err = l.assets.Move(node.App.Token, node.App.Applicant,
			assets.BucketReservedWithdrawal, assets.BucketFree, node.App.Amount)
	}
	if err != nil {
		return err
	}

	l.emitter.Emit(events.WithdrawalFinished{ID: id, Success: success})
	return nil
}

// Application loads a pending application by id.
func (l *WithdrawalLedger) Application(id uint32) (*Application, bool, error) {
	node, ok, err := l.node(id)
	if err != nil || !ok {
		return nil, false, err
	}
	app := node.App
	return &app, true, nil
}

// ListPending returns up to maxCount pending application ids of the partition
// in submission order. An empty or unknown partition yields an empty slice.
func (l *WithdrawalLedger) ListPending(chain assets.Chain, maxCount uint32) ([]uint32, error) {
	ids := make([]uint32, 0, maxCount)
	if maxCount == 0 {
		return ids, nil
	}
	err := l.traverse(chain, func(node *listNode) bool {
		ids = append(ids, node.App.ID)
		return uint32(len(ids)) < maxCount
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListAll returns every pending application of the partition, oldest first.
func (l *WithdrawalLedger) ListAll(chain assets.Chain) ([]Application, error) {
	apps := make([]Application, 0)
	err := l.traverse(chain, func(node *listNode) bool {
		apps = append(apps, node.App)
		return true
	})
	if err != nil {
		return nil, err
	}
	return apps, nil
}

// Head returns the id at the front of the partition, if any. Test and RPC
// helper.
func (l *WithdrawalLedger) Head(chain assets.Chain) (uint32, bool, error) {
	return l.pointer(withdrawHeadKey(chain))
}

// Tail returns the id at the back of the partition, if any.
func (l *WithdrawalLedger) Tail(chain assets.Chain) (uint32, bool, error) {
	return l.pointer(withdrawTailKey(chain))
}

func (l *WithdrawalLedger) traverse(chain assets.Chain, visit func(*listNode) bool) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	current, ok, err := l.Head(chain)
	if err != nil || !ok {
		return err
	}
	for {
		node, ok, err := l.node(current)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: node %d reachable from head of %s", ErrQueueCorrupted, current, chain)
		}
		if !visit(node) || !node.HasNext {
			return nil
		}
		current = node.Next
	}
}

func (l *WithdrawalLedger) serial() (uint32, error) {
	var id uint32
	if _, err := l.state.KVGet(withdrawSerialKey, &id); err != nil {
		return 0, err
	}
	return id, nil
}

func (l *WithdrawalLedger) node(id uint32) (*listNode, bool, error) {
	if l == nil || l.state == nil {
		return nil, false, errNilState
	}
	var stored storedListNode
	ok, err := l.state.KVGet(withdrawNodeKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.node(id), true, nil
}

func (l *WithdrawalLedger) putNode(node *listNode) error {
	return l.state.KVPut(withdrawNodeKey(node.App.ID), node.stored())
}

func (l *WithdrawalLedger) pointer(key []byte) (uint32, bool, error) {
	if l == nil || l.state == nil {
		return 0, false, errNilState
	}
	var id uint32
	ok, err := l.state.KVGet(key, &id)
	return id, ok, err
}

// appendNode links the node at the tail of its partition. A tail pointer
// naming a missing node is store corruption and fails the operation; the
// funds lock must never be skipped silently.
func (l *WithdrawalLedger) appendNode(chain assets.Chain, node *listNode) error {
	tailID, ok, err := l.Tail(chain)
	if err != nil {
		return err
	}
	if ok {
		tail, found, err := l.node(tailID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: tail %d of %s", ErrQueueCorrupted, tailID, chain)
		}
		tail.HasNext = true
		tail.Next = node.App.ID
		node.HasPrev = true
		node.Prev = tailID
		if err := l.putNode(tail); err != nil {
			return err
		}
	} else {
		if err := l.state.KVPut(withdrawHeadKey(chain), node.App.ID); err != nil {
			return err
		}
	}
	if err := l.state.KVPut(withdrawTailKey(chain), node.App.ID); err != nil {
		return err
	}
	return l.putNode(node)
}

// unlinkNode rewires the node's neighbors and the partition endpoints around
// it.
func (l *WithdrawalLedger) unlinkNode(chain assets.Chain, node *listNode) error {
	if node.HasPrev {
		prev, ok, err := l.node(node.Prev)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: prev %d of node %d", ErrQueueCorrupted, node.Prev, node.App.ID)
		}
		prev.HasNext = node.HasNext
		prev.Next = node.Next
		if err := l.putNode(prev); err != nil {
			return err
		}
	} else if node.HasNext {
		if err := l.state.KVPut(withdrawHeadKey(chain), node.Next); err != nil {
			return err
		}
	} else {
		if err := l.state.KVDelete(withdrawHeadKey(chain)); err != nil {
			return err
		}
	}

	if node.HasNext {
		next, ok, err := l.node(node.Next)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: next %d of node %d", ErrQueueCorrupted, node.Next, node.App.ID)
		}
		next.HasPrev = node.HasPrev
		next.Prev = node.Prev
		if err := l.putNode(next); err != nil {
			return err
		}
	} else if node.HasPrev {
		if err := l.state.KVPut(withdrawTailKey(chain), node.Prev); err != nil {
			return err
		}
	} else {
		if err := l.state.KVDelete(withdrawTailKey(chain)); err != nil {
			return err
		}
	}
	return nil
}

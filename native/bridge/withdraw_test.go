package bridge

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"xbchain/core/events"
	"xbchain/core/state"
	"xbchain/native/assets"
	"xbchain/storage"
)

type acceptAllValidator struct{}

func (acceptAllValidator) Check(string, string) error { return nil }

type captureEmitter struct {
	emitted []events.Event
}

func (c *captureEmitter) Emit(event events.Event) {
	c.emitted = append(c.emitted, event)
}

type ledgerEnv struct {
	t       *testing.T
	mgr     *state.Manager
	assets  *assets.Ledger
	ledger  *WithdrawalLedger
	emitter *captureEmitter
}

func newLedgerEnv(t *testing.T) *ledgerEnv {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	assetLedger := assets.NewLedger(mgr)
	if err := assetLedger.RegisterAsset(assets.Asset{
		Token:         "BTC",
		Name:          "Bridged Bitcoin",
		Chain:         assets.ChainBitcoin,
		Decimals:      8,
		MinWithdrawal: big.NewInt(10),
	}); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	if err := assetLedger.RegisterAsset(assets.Asset{
		Token:    "XRC",
		Name:     "Chain-local reward credit",
		Chain:    assets.ChainNative,
		Decimals: 8,
	}); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	ledger := NewWithdrawalLedger(mgr, assetLedger)
	ledger.SetAddressValidator(acceptAllValidator{})
	emitter := &captureEmitter{}
	ledger.SetEmitter(emitter)
	return &ledgerEnv{t: t, mgr: mgr, assets: assetLedger, ledger: ledger, emitter: emitter}
}

func (env *ledgerEnv) fund(addr [20]byte, amount int64) {
	env.t.Helper()
	if err := env.assets.Issue("BTC", addr, big.NewInt(amount)); err != nil {
		env.t.Fatalf("issue: %v", err)
	}
}

func (env *ledgerEnv) submit(addr [20]byte, amount int64) uint32 {
	env.t.Helper()
	id, err := env.ledger.Submit(addr, "BTC", big.NewInt(amount), "1BitcoinEaterAddressDontSendf59kuE", nil, 1700000000)
	if err != nil {
		env.t.Fatalf("submit: %v", err)
	}
	return id
}

func addrOf(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestSubmitRejectsNativeToken(t *testing.T) {
	env := newLedgerEnv(t)
	_, err := env.ledger.Submit(addrOf(1), assets.NativeToken, big.NewInt(50), "addr", nil, 0)
	if !errors.Is(err, ErrTokenNotWithdrawable) {
		t.Fatalf("expected ErrTokenNotWithdrawable, got %v", err)
	}
}

func TestSubmitRejectsNativeChainAsset(t *testing.T) {
	env := newLedgerEnv(t)
	_, err := env.ledger.Submit(addrOf(1), "XRC", big.NewInt(50), "addr", nil, 0)
	if !errors.Is(err, ErrTokenNotWithdrawable) {
		t.Fatalf("expected ErrTokenNotWithdrawable, got %v", err)
	}
}

func TestSubmitRejectsBadAddress(t *testing.T) {
	env := newLedgerEnv(t)
	env.ledger.SetAddressValidator(nil) // real Bitcoin validator
	env.fund(addrOf(1), 100)
	_, err := env.ledger.Submit(addrOf(1), "BTC", big.NewInt(50), "not-a-bitcoin-address", nil, 0)
	if !errors.Is(err, ErrAddressInvalid) {
		t.Fatalf("expected ErrAddressInvalid, got %v", err)
	}
}

func TestSubmitRejectsBelowMinimum(t *testing.T) {
	env := newLedgerEnv(t)
	env.fund(addrOf(1), 100)
	_, err := env.ledger.Submit(addrOf(1), "BTC", big.NewInt(9), "addr", nil, 0)
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if _, err := env.ledger.Submit(addrOf(1), "BTC", nil, "addr", nil, 0); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum for nil amount, got %v", err)
	}
}

func TestSubmitRejectsInsufficientBalance(t *testing.T) {
	env := newLedgerEnv(t)
	env.fund(addrOf(1), 40)
	_, err := env.ledger.Submit(addrOf(1), "BTC", big.NewInt(41), "addr", nil, 0)
	if !errors.Is(err, ErrInsufficientFreeBalance) {
		t.Fatalf("expected ErrInsufficientFreeBalance, got %v", err)
	}
	// nothing was locked
	reserved, _ := env.assets.ReservedBalance("BTC", addrOf(1))
	if reserved.Sign() != 0 {
		t.Fatalf("reserved = %s after rejected submit", reserved)
	}
}

func TestSubmitLocksFunds(t *testing.T) {
	env := newLedgerEnv(t)
	who := addrOf(1)
	env.fund(who, 100)

	id := env.submit(who, 100)

	free, _ := env.assets.FreeBalance("BTC", who)
	reserved, _ := env.assets.ReservedBalance("BTC", who)
	if free.Sign() != 0 || reserved.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("free = %s, reserved = %s after submit", free, reserved)
	}

	app, ok, err := env.ledger.Application(id)
	if err != nil || !ok {
		t.Fatalf("application lookup: ok=%v err=%v", ok, err)
	}
	if app.Amount.Cmp(big.NewInt(100)) != 0 || app.Applicant != who {
		t.Fatalf("unexpected application %+v", app)
	}
}

func TestFinishSuccessDestroysSupply(t *testing.T) {
	env := newLedgerEnv(t)
	who := addrOf(1)
	env.fund(who, 100)
	id := env.submit(who, 100)

	if err := env.ledger.Finish(id, true); err != nil {
		t.Fatalf("finish: %v", err)
	}
	reserved, _ := env.assets.ReservedBalance("BTC", who)
	supply, _ := env.assets.TotalSupply("BTC")
	if reserved.Sign() != 0 {
		t.Fatalf("reserved = %s after finish", reserved)
	}
	if supply.Sign() != 0 {
		t.Fatalf("supply = %s, want 0 after burn", supply)
	}
	// the release happened exactly once; the id is gone
	if err := env.ledger.Finish(id, true); !errors.Is(err, ErrApplicationNotFound) {
		t.Fatalf("expected ErrApplicationNotFound on second finish, got %v", err)
	}
}

func TestFinishFailureRestoresFree(t *testing.T) {
	env := newLedgerEnv(t)
	who := addrOf(1)
	env.fund(who, 100)
	id := env.submit(who, 60)

	supplyBefore, _ := env.assets.TotalSupply("BTC")
	if err := env.ledger.Finish(id, false); err != nil {
		t.Fatalf("finish: %v", err)
	}
	free, _ := env.assets.FreeBalance("BTC", who)
	supply, _ := env.assets.TotalSupply("BTC")
	if free.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("free = %s, want 100 restored", free)
	}
	if supply.Cmp(supplyBefore) != 0 {
		t.Fatalf("supply changed on revoked withdrawal")
	}
}

func TestFinishUnknownID(t *testing.T) {
	env := newLedgerEnv(t)
	if err := env.ledger.Finish(7, true); !errors.Is(err, ErrApplicationNotFound) {
		t.Fatalf("expected ErrApplicationNotFound, got %v", err)
	}
}

func TestFIFOOrderAndCount(t *testing.T) {
	env := newLedgerEnv(t)
	who := addrOf(1)
	env.fund(who, 1000)

	submitted := make([]uint32, 0, 5)
	for i := 0; i < 5; i++ {
		submitted = append(submitted, env.submit(who, 20))
	}

	ids, err := env.ledger.ListPending(assets.ChainBitcoin, 100)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(ids) != 5 {
		t.Fatalf("pending = %d, want 5", len(ids))
	}
	for i, id := range ids {
		if id != submitted[i] {
			t.Fatalf("order %v, want %v", ids, submitted)
		}
	}

	// finish two; count follows submits minus finishes
	if err := env.ledger.Finish(submitted[1], false); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := env.ledger.Finish(submitted[3], true); err != nil {
		t.Fatalf("finish: %v", err)
	}
	ids, err = env.ledger.ListPending(assets.ChainBitcoin, 100)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	want := []uint32{submitted[0], submitted[2], submitted[4]}
	if len(ids) != len(want) {
		t.Fatalf("pending = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("pending = %v, want %v", ids, want)
		}
	}
}

func TestListPendingRespectsMaxCount(t *testing.T) {
	env := newLedgerEnv(t)
	who := addrOf(1)
	env.fund(who, 1000)
	for i := 0; i < 4; i++ {
		env.submit(who, 20)
	}

	ids, err := env.ledger.ListPending(assets.ChainBitcoin, 2)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("pending = %v, want 2 entries", ids)
	}
	ids, err = env.ledger.ListPending(assets.ChainBitcoin, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("pending = %v, want none for max 0", ids)
	}
}

func TestListEmptyPartition(t *testing.T) {
	env := newLedgerEnv(t)
	ids, err := env.ledger.ListPending(assets.ChainBitcoin, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if ids == nil || len(ids) != 0 {
		t.Fatalf("pending = %#v, want empty slice", ids)
	}
	apps, err := env.ledger.ListAll(assets.Chain("Dogecoin"))
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if apps == nil || len(apps) != 0 {
		t.Fatalf("apps = %#v, want empty slice", apps)
	}
}

func TestFinishHeadRepointsEndpoints(t *testing.T) {
	env := newLedgerEnv(t)
	who := addrOf(1)
	env.fund(who, 1000)

	a := env.submit(who, 20)
	b := env.submit(who, 20)

	if err := env.ledger.Finish(a, false); err != nil {
		t.Fatalf("finish: %v", err)
	}
	apps, err := env.ledger.ListAll(assets.ChainBitcoin)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(apps) != 1 || apps[0].ID != b {
		t.Fatalf("apps = %+v, want only %d", apps, b)
	}
	head, ok, _ := env.ledger.Head(assets.ChainBitcoin)
	tail, okTail, _ := env.ledger.Tail(assets.ChainBitcoin)
	if !ok || !okTail || head != b || tail != b {
		t.Fatalf("head = (%d, %v), tail = (%d, %v), want both %d", head, ok, tail, okTail, b)
	}
}

func TestFinishLastClearsEndpoints(t *testing.T) {
	env := newLedgerEnv(t)
	who := addrOf(1)
	env.fund(who, 100)
	id := env.submit(who, 50)

	if err := env.ledger.Finish(id, false); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, ok, _ := env.ledger.Head(assets.ChainBitcoin); ok {
		t.Fatalf("head still set after last finish")
	}
	if _, ok, _ := env.ledger.Tail(assets.ChainBitcoin); ok {
		t.Fatalf("tail still set after last finish")
	}
}

func TestSerialCounterWraps(t *testing.T) {
	env := newLedgerEnv(t)
	who := addrOf(1)
	env.fund(who, 1000)

	if err := env.mgr.KVPut(withdrawSerialKey, uint32(math.MaxUint32)); err != nil {
		t.Fatalf("seed serial: %v", err)
	}
	id := env.submit(who, 20)
	if id != math.MaxUint32 {
		t.Fatalf("id = %d, want %d", id, uint32(math.MaxUint32))
	}
	id = env.submit(who, 20)
	if id != 0 {
		t.Fatalf("id = %d, want wraparound to 0", id)
	}
}

func TestSubmitFailsOnDanglingTail(t *testing.T) {
	env := newLedgerEnv(t)
	who := addrOf(1)
	env.fund(who, 1000)
	env.submit(who, 20)

	// corrupt the tail pointer; the submit must fail loudly instead of
	// silently skipping the funds lock
	if err := env.mgr.KVPut(withdrawTailKey(assets.ChainBitcoin), uint32(4242)); err != nil {
		t.Fatalf("corrupt tail: %v", err)
	}
	_, err := env.ledger.Submit(who, "BTC", big.NewInt(20), "addr", nil, 0)
	if !errors.Is(err, ErrQueueCorrupted) {
		t.Fatalf("expected ErrQueueCorrupted, got %v", err)
	}
}

func TestEventsEmitted(t *testing.T) {
	env := newLedgerEnv(t)
	who := addrOf(1)
	env.fund(who, 100)
	id := env.submit(who, 50)
	if err := env.ledger.Finish(id, true); err != nil {
		t.Fatalf("finish: %v", err)
	}

	if len(env.emitter.emitted) != 2 {
		t.Fatalf("emitted %d events, want 2", len(env.emitter.emitted))
	}
	applied, ok := env.emitter.emitted[0].(events.WithdrawalApplied)
	if !ok {
		t.Fatalf("first event %T, want WithdrawalApplied", env.emitter.emitted[0])
	}
	if applied.ID != id || applied.Chain != string(assets.ChainBitcoin) {
		t.Fatalf("unexpected applied event %+v", applied)
	}
	if applied.Event().Attribute("state") != "applying" {
		t.Fatalf("applied event missing applying state")
	}
	finished, ok := env.emitter.emitted[1].(events.WithdrawalFinished)
	if !ok {
		t.Fatalf("second event %T, want WithdrawalFinished", env.emitter.emitted[1])
	}
	if finished.ID != id || !finished.Success {
		t.Fatalf("unexpected finished event %+v", finished)
	}
}

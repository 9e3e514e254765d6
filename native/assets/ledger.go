package assets

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// NativeToken is the chain-local staking and fee token. It settles on this
// chain only and is never withdrawable through the bridge.
const NativeToken = "XBC"

// Chain identifies the settlement chain of an asset. Withdrawal queues are
// partitioned by it.
type Chain string

const (
	ChainNative  Chain = "XBChain"
	ChainBitcoin Chain = "Bitcoin"
)

// Bucket selects one of the per-account balance buckets of an asset.
type Bucket uint8

const (
	// BucketFree holds spendable balance.
	BucketFree Bucket = iota
	// BucketReservedWithdrawal holds balance locked behind a pending
	// withdrawal application.
	BucketReservedWithdrawal
)

var (
	ErrAssetNotFound       = errors.New("assets: asset not registered")
	ErrAssetExists         = errors.New("assets: asset already registered")
	ErrInvalidAmount       = errors.New("assets: amount must be positive")
	ErrInsufficientBalance = errors.New("assets: insufficient bucket balance")
	ErrInsufficientSupply  = errors.New("assets: destroy exceeds total supply")
	ErrUnknownBucket       = errors.New("assets: unknown balance bucket")
	errNilState            = errors.New("assets: state not configured")
	errEmptyToken          = errors.New("assets: token symbol must not be empty")
)

// Storage abstracts the subset of state manager functionality required by the
// asset ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Asset describes a registered token and the chain it settles on.
type Asset struct {
	Token         string
	Name          string
	Chain         Chain
	Decimals      uint8
	MinWithdrawal *big.Int
}

type storedAsset struct {
	Name          string
	Chain         string
	Decimals      uint8
	MinWithdrawal *big.Int
}

type storedBalance struct {
	Free     *big.Int
	Reserved *big.Int
}

// Ledger maintains the asset registry, per-account balance buckets, and total
// supply for every registered token.
type Ledger struct {
	state Storage
}

// NewLedger creates an asset ledger bound to the provided state backend.
func NewLedger(state Storage) *Ledger {
	return &Ledger{state: state}
}

var (
	assetMetaPrefix    = []byte("assets/meta/")
	assetBalancePrefix = []byte("assets/balance/")
	assetSupplyPrefix  = []byte("assets/supply/")
)

// NormalizeToken canonicalizes a token symbol.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

func assetMetaKey(token string) []byte {
	return append(append([]byte(nil), assetMetaPrefix...), token...)
}

func assetSupplyKey(token string) []byte {
	return append(append([]byte(nil), assetSupplyPrefix...), token...)
}

func balanceKey(token string, addr [20]byte) []byte {
	key := make([]byte, 0, len(assetBalancePrefix)+len(token)+1+len(addr))
	key = append(key, assetBalancePrefix...)
	key = append(key, token...)
	key = append(key, '/')
	return append(key, addr[:]...)
}

// RegisterAsset records a new token and its settlement chain. Registering the
// same symbol twice is rejected.
func (l *Ledger) RegisterAsset(asset Asset) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	token := NormalizeToken(asset.Token)
	if token == "" {
		return errEmptyToken
	}
	if strings.TrimSpace(asset.Name) == "" {
		return fmt.Errorf("assets: token %s: name must not be empty", token)
	}
	if ok, err := l.state.KVGet(assetMetaKey(token), nil); err != nil {
		return err
	} else if ok {
		return ErrAssetExists
	}
	min := big.NewInt(0)
	if asset.MinWithdrawal != nil {
		min = new(big.Int).Set(asset.MinWithdrawal)
	}
	stored := storedAsset{
		Name:          asset.Name,
		Chain:         string(asset.Chain),
		Decimals:      asset.Decimals,
		MinWithdrawal: min,
	}
	return l.state.KVPut(assetMetaKey(token), &stored)
}

// GetAsset loads a registered asset by token symbol.
func (l *Ledger) GetAsset(token string) (*Asset, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	token = NormalizeToken(token)
	if token == "" {
		return nil, errEmptyToken
	}
	var stored storedAsset
	ok, err := l.state.KVGet(assetMetaKey(token), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAssetNotFound
	}
	min := big.NewInt(0)
	if stored.MinWithdrawal != nil {
		min = new(big.Int).Set(stored.MinWithdrawal)
	}
	return &Asset{
		Token:         token,
		Name:          stored.Name,
		Chain:         Chain(stored.Chain),
		Decimals:      stored.Decimals,
		MinWithdrawal: min,
	}, nil
}

// FreeBalance returns the spendable balance of the account for the token.
func (l *Ledger) FreeBalance(token string, addr [20]byte) (*big.Int, error) {
	balance, err := l.loadBalance(NormalizeToken(token), addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(balance.Free), nil
}

// ReservedBalance returns the withdrawal-locked balance of the account for the
// token.
func (l *Ledger) ReservedBalance(token string, addr [20]byte) (*big.Int, error) {
	balance, err := l.loadBalance(NormalizeToken(token), addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(balance.Reserved), nil
}

// TotalSupply returns the issued supply of the token.
func (l *Ledger) TotalSupply(token string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	token = NormalizeToken(token)
	supply := new(big.Int)
	if _, err := l.state.KVGet(assetSupplyKey(token), supply); err != nil {
		return nil, err
	}
	return supply, nil
}

// Move shifts amount between two balance buckets of the same account. The
// source bucket must hold at least amount.
func (l *Ledger) Move(token string, addr [20]byte, from, to Bucket, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	token = NormalizeToken(token)
	balance, err := l.loadBalance(token, addr)
	if err != nil {
		return err
	}
	src, err := balance.bucket(from)
	if err != nil {
		return err
	}
	dst, err := balance.bucket(to)
	if err != nil {
		return err
	}
	if src.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.Sub(src, amount)
	dst.Add(dst, amount)
	return l.state.KVPut(balanceKey(token, addr), balance)
}

// Issue mints amount into the account's free bucket and grows total supply.
func (l *Ledger) Issue(token string, addr [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	token = NormalizeToken(token)
	balance, err := l.loadBalance(token, addr)
	if err != nil {
		return err
	}
	balance.Free.Add(balance.Free, amount)
	if err := l.state.KVPut(balanceKey(token, addr), balance); err != nil {
		return err
	}
	return l.adjustSupply(token, amount)
}

// Destroy burns amount out of the account's reserved-withdrawal bucket and
// shrinks total supply. This is the terminal step of a settled withdrawal.
func (l *Ledger) Destroy(token string, addr [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	token = NormalizeToken(token)
	balance, err := l.loadBalance(token, addr)
	if err != nil {
		return err
	}
	if balance.Reserved.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balance.Reserved.Sub(balance.Reserved, amount)
	if err := l.state.KVPut(balanceKey(token, addr), balance); err != nil {
		return err
	}
	return l.adjustSupply(token, new(big.Int).Neg(amount))
}

func (l *Ledger) adjustSupply(token string, delta *big.Int) error {
	supply := new(big.Int)
	if _, err := l.state.KVGet(assetSupplyKey(token), supply); err != nil {
		return err
	}
	supply.Add(supply, delta)
	if supply.Sign() < 0 {
		return ErrInsufficientSupply
	}
	return l.state.KVPut(assetSupplyKey(token), supply)
}

func (l *Ledger) loadBalance(token string, addr [20]byte) (*storedBalance, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if token == "" {
		return nil, errEmptyToken
	}
	balance := &storedBalance{}
	if _, err := l.state.KVGet(balanceKey(token, addr), balance); err != nil {
		return nil, err
	}
	if balance.Free == nil {
		balance.Free = big.NewInt(0)
	}
	if balance.Reserved == nil {
		balance.Reserved = big.NewInt(0)
	}
	return balance, nil
}

func (b *storedBalance) bucket(which Bucket) (*big.Int, error) {
	switch which {
	case BucketFree:
		return b.Free, nil
	case BucketReservedWithdrawal:
		return b.Reserved, nil
	default:
		return nil, ErrUnknownBucket
	}
}

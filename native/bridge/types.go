package bridge

import (
	"bytes"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Storage abstracts the subset of state manager functionality required by the
// bridge module.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// HeaderRecord is the stored form of one tracked foreign header. Exactly one
// record exists per header hash; several records may share a height when the
// foreign chain forks. The confirmed flag flips false to true at most once.
type HeaderRecord struct {
	Header    wire.BlockHeader
	Height    uint64
	Confirmed bool
	TxIDs     []chainhash.Hash
}

// Hash returns the double-SHA256 identity of the tracked header.
func (r *HeaderRecord) Hash() chainhash.Hash {
	return r.Header.BlockHash()
}

type storedHeaderRecord struct {
	Header    []byte
	Height    uint64
	Confirmed bool
	TxIDs     []chainhash.Hash
}

func (r *HeaderRecord) stored() (*storedHeaderRecord, error) {
	var buf bytes.Buffer
	if err := r.Header.Serialize(&buf); err != nil {
		return nil, err
	}
	return &storedHeaderRecord{
		Header:    buf.Bytes(),
		Height:    r.Height,
		Confirmed: r.Confirmed,
		TxIDs:     r.TxIDs,
	}, nil
}

func (s *storedHeaderRecord) record() (*HeaderRecord, error) {
	record := &HeaderRecord{
		Height:    s.Height,
		Confirmed: s.Confirmed,
		TxIDs:     s.TxIDs,
	}
	if err := record.Header.Deserialize(bytes.NewReader(s.Header)); err != nil {
		return nil, err
	}
	return record, nil
}

// Application is one pending withdrawal request. Immutable once created and
// removed in full on finish; the applied event is the lasting audit record.
type Application struct {
	ID        uint32
	Applicant [20]byte
	Token     string
	Amount    *big.Int
	Address   string
	Memo      []byte
	CreatedAt uint64
}

// listNode is the intrusive doubly-linked list cell persisted per pending
// application. Prev/Next are application ids; the Has flags stand in for
// optionality since the RLP encoding has no nil scalar.
type listNode struct {
	App     Application
	HasPrev bool
	Prev    uint32
	HasNext bool
	Next    uint32
}

type storedListNode struct {
	Applicant [20]byte
	Token     string
	Amount    *big.Int
	Address   string
	Memo      []byte
	CreatedAt uint64
	HasPrev   bool
	Prev      uint32
	HasNext   bool
	Next      uint32
}

func (n *listNode) stored() *storedListNode {
	amount := big.NewInt(0)
	if n.App.Amount != nil {
		amount = new(big.Int).Set(n.App.Amount)
	}
	return &storedListNode{
		Applicant: n.App.Applicant,
		Token:     n.App.Token,
		Amount:    amount,
		Address:   n.App.Address,
		Memo:      n.App.Memo,
		CreatedAt: n.App.CreatedAt,
		HasPrev:   n.HasPrev,
		Prev:      n.Prev,
		HasNext:   n.HasNext,
		Next:      n.Next,
	}
}

func (s *storedListNode) node(id uint32) *listNode {
	amount := big.NewInt(0)
	if s.Amount != nil {
		amount = new(big.Int).Set(s.Amount)
	}
	return &listNode{
		App: Application{
			ID:        id,
			Applicant: s.Applicant,
			Token:     s.Token,
			Amount:    amount,
			Address:   s.Address,
			Memo:      s.Memo,
			CreatedAt: s.CreatedAt,
		},
		HasPrev: s.HasPrev,
		Prev:    s.Prev,
		HasNext: s.HasNext,
		Next:    s.Next,
	}
}

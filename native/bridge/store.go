package bridge

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	btcHeaderPrefix = []byte("bridge/btc/header/")
	btcHeightPrefix = []byte("bridge/btc/height/")
	btcBestKey      = []byte("bridge/btc/best")
	btcParamsKey    = []byte("bridge/btc/params")
	btcGenesisKey   = []byte("bridge/btc/genesis")
)

type storedParams struct {
	Confirmations  uint32
	ReservedWindow uint32
}

type storedGenesis struct {
	Hash   chainhash.Hash
	Height uint64
}

// HeaderStore persists tracked foreign header records, the per-height hash
// index, the best-tip pointer, and the tunable tracking constants.
type HeaderStore struct {
	state Storage
}

// NewHeaderStore creates a header store bound to the provided state backend.
func NewHeaderStore(state Storage) *HeaderStore {
	return &HeaderStore{state: state}
}

func headerKey(hash chainhash.Hash) []byte {
	return append(append([]byte(nil), btcHeaderPrefix...), hash[:]...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(btcHeightPrefix)+8)
	copy(key, btcHeightPrefix)
	binary.BigEndian.PutUint64(key[len(btcHeightPrefix):], height)
	return key
}

// Initialize seeds the store with the externally fixed genesis header and the
// tracking constants. Confirmations must be at least 1 and the reserved window
// must cover the confirmation window, otherwise settlement could chase headers
// pruning already discarded.
func (s *HeaderStore) Initialize(genesis *wire.BlockHeader, height uint64, confirmations, reserved uint32) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	if genesis == nil {
		return fmt.Errorf("bridge: genesis header must not be nil")
	}
	if confirmations < 1 {
		return fmt.Errorf("bridge: confirmations must be at least 1, got %d", confirmations)
	}
	if uint64(reserved) < uint64(confirmations) {
		return fmt.Errorf("bridge: reserved window %d below confirmations %d", reserved, confirmations)
	}
	if ok, err := s.state.KVGet(btcGenesisKey, nil); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("bridge: header store already initialized")
	}
	record := &HeaderRecord{Header: *genesis, Height: height, Confirmed: true}
	hash := record.Hash()
	if err := s.PutHeader(record); err != nil {
		return err
	}
	if err := s.AddHashAtHeight(height, hash); err != nil {
		return err
	}
	if err := s.SetBestTip(hash); err != nil {
		return err
	}
	if err := s.state.KVPut(btcGenesisKey, &storedGenesis{Hash: hash, Height: height}); err != nil {
		return err
	}
	params := storedParams{Confirmations: confirmations, ReservedWindow: reserved}
	return s.state.KVPut(btcParamsKey, &params)
}

// Header loads the record stored for the given hash.
func (s *HeaderStore) Header(hash chainhash.Hash) (*HeaderRecord, bool, error) {
	if s == nil || s.state == nil {
		return nil, false, errNilState
	}
	var stored storedHeaderRecord
	ok, err := s.state.KVGet(headerKey(hash), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	record, err := stored.record()
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// PutHeader writes the record under its header hash.
func (s *HeaderStore) PutHeader(record *HeaderRecord) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	stored, err := record.stored()
	if err != nil {
		return err
	}
	return s.state.KVPut(headerKey(record.Hash()), stored)
}

// DeleteHeader removes the record stored for the given hash.
func (s *HeaderStore) DeleteHeader(hash chainhash.Hash) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	return s.state.KVDelete(headerKey(hash))
}

// HashesAtHeight returns every header hash recorded at the given height.
func (s *HeaderStore) HashesAtHeight(height uint64) ([]chainhash.Hash, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	var hashes []chainhash.Hash
	if _, err := s.state.KVGet(heightKey(height), &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}

// AddHashAtHeight appends a hash to the height index, ignoring duplicates.
func (s *HeaderStore) AddHashAtHeight(height uint64, hash chainhash.Hash) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	hashes, err := s.HashesAtHeight(height)
	if err != nil {
		return err
	}
	for _, existing := range hashes {
		if existing == hash {
			return nil
		}
	}
	hashes = append(hashes, hash)
	return s.state.KVPut(heightKey(height), hashes)
}

// ClearHeight drops the hash index entry for the given height.
func (s *HeaderStore) ClearHeight(height uint64) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	return s.state.KVDelete(heightKey(height))
}

// BestTip returns the hash the external fork-choice collaborator last
// advanced to. The tracker only reads it.
func (s *HeaderStore) BestTip() (chainhash.Hash, bool, error) {
	var hash chainhash.Hash
	if s == nil || s.state == nil {
		return hash, false, errNilState
	}
	ok, err := s.state.KVGet(btcBestKey, &hash)
	return hash, ok, err
}

// SetBestTip advances the best-tip pointer.
func (s *HeaderStore) SetBestTip(hash chainhash.Hash) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	return s.state.KVPut(btcBestKey, &hash)
}

// Confirmations returns the configured confirmation depth K.
func (s *HeaderStore) Confirmations() (uint32, error) {
	params, err := s.params()
	if err != nil {
		return 0, err
	}
	return params.Confirmations, nil
}

// ReservedWindow returns the number of trailing heights retained before
// pruning.
func (s *HeaderStore) ReservedWindow() (uint32, error) {
	params, err := s.params()
	if err != nil {
		return 0, err
	}
	return params.ReservedWindow, nil
}

// GenesisInfo returns the externally fixed genesis hash and height.
func (s *HeaderStore) GenesisInfo() (chainhash.Hash, uint64, error) {
	var stored storedGenesis
	if s == nil || s.state == nil {
		return stored.Hash, 0, errNilState
	}
	ok, err := s.state.KVGet(btcGenesisKey, &stored)
	if err != nil {
		return stored.Hash, 0, err
	}
	if !ok {
		return stored.Hash, 0, fmt.Errorf("bridge: header store not initialized")
	}
	return stored.Hash, stored.Height, nil
}

func (s *HeaderStore) params() (*storedParams, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	var params storedParams
	ok, err := s.state.KVGet(btcParamsKey, &params)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("bridge: header store not initialized")
	}
	return &params, nil
}

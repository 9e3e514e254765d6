package bridge

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// AddressValidator checks that a withdrawal destination is well formed for
// the token's settlement chain.
type AddressValidator interface {
	Check(token, address string) error
}

// BitcoinAddressValidator accepts base58 and bech32 Bitcoin addresses for the
// configured network.
type BitcoinAddressValidator struct {
	params *chaincfg.Params
}

// NewBitcoinAddressValidator creates a validator for the given network
// parameters, defaulting to mainnet.
func NewBitcoinAddressValidator(params *chaincfg.Params) *BitcoinAddressValidator {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &BitcoinAddressValidator{params: params}
}

// Check implements the AddressValidator interface.
func (v *BitcoinAddressValidator) Check(_, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("address must not be empty")
	}
	decoded, err := btcutil.DecodeAddress(address, v.params)
	if err != nil {
		return err
	}
	if !decoded.IsForNet(v.params) {
		return fmt.Errorf("address %s is not for network %s", address, v.params.Name)
	}
	return nil
}

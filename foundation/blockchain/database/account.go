package database

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/stakechain/stakechain/foundation/blockchain/signature"
)

// AccountID represents an account id that is used to sign transactions and
// is associated with transactions on the blockchain. The empty value means
// no account, which protocol minted transactions use for their sender.
type AccountID string

// ToAccountID constructs an AccountID from a bech32 encoded string.
func ToAccountID(value string) (AccountID, error) {
	a := AccountID(value)
	if !a.IsAccountID() {
		return "", fmt.Errorf("invalid account id %q", value)
	}

	return a, nil
}

// PublicKeyToAccountID converts the public key to an account id.
func PublicKeyToAccountID(pk ecdsa.PublicKey) (AccountID, error) {
	address, err := signature.PublicKeyToAddress(pk)
	if err != nil {
		return "", err
	}

	return AccountID(address), nil
}

// IsAccountID verifies the underlying value is a properly encoded account
// address for this chain.
func (a AccountID) IsAccountID() bool {
	return signature.DecodeAddress(string(a)) == nil
}

// =============================================================================

// Account represents information stored in the ledger for an individual
// account.
type Account struct {
	AccountID AccountID `json:"account_id"`
	Nonce     uint64    `json:"nonce"`
	Balance   uint64    `json:"balance"`
}

// newAccount constructs a new account value for use in the ledger.
func newAccount(accountID AccountID, balance uint64) Account {
	return Account{
		AccountID: accountID,
		Balance:   balance,
	}
}

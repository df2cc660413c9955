package database

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/stakechain/stakechain/foundation/blockchain/signature"
)

// Set of errors returned by transaction signing and validation.
var (
	ErrAddressMismatch = errors.New("signing key does not match the from address")
	ErrProtocolTx      = errors.New("protocol minted transactions are not signed")
	ErrInvalidTx       = errors.New("transaction failed validation")
)

// =============================================================================

// TxType classifies what a transaction does when it is applied.
type TxType string

// Set of transaction types supported by the chain.
const (
	TxTypeTransfer        TxType = "transfer"
	TxTypeDelegate        TxType = "delegate"
	TxTypeUndelegate      TxType = "undelegate"
	TxTypeRedelegate      TxType = "redelegate"
	TxTypeVote            TxType = "vote"
	TxTypeCreateValidator TxType = "create_validator"
	TxTypeEditValidator   TxType = "edit_validator"
	TxTypeSubmitProposal  TxType = "submit_proposal"
	TxTypeDeposit         TxType = "deposit"
	TxTypeMiningReward    TxType = "mining_reward"
)

// feeMultipliers maps a transaction type to its fee weight. Protocol minted
// transactions carry no fee.
var feeMultipliers = map[TxType]uint64{
	TxTypeTransfer:        1,
	TxTypeDelegate:        2,
	TxTypeUndelegate:      2,
	TxTypeRedelegate:      3,
	TxTypeVote:            1,
	TxTypeCreateValidator: 10,
	TxTypeEditValidator:   5,
	TxTypeSubmitProposal:  5,
	TxTypeDeposit:         2,
	TxTypeMiningReward:    0,
}

// needsRecipient reports whether the transaction type moves value to an
// explicit recipient.
func (t TxType) needsRecipient() bool {
	switch t {
	case TxTypeTransfer, TxTypeDelegate, TxTypeUndelegate, TxTypeRedelegate, TxTypeMiningReward:
		return true
	}
	return false
}

// allowsZeroValue reports whether the transaction type is exempt from the
// amount > 0 rule.
func (t TxType) allowsZeroValue() bool {
	switch t {
	case TxTypeVote, TxTypeEditValidator, TxTypeSubmitProposal:
		return true
	}
	return false
}

// isKnown reports whether the transaction type is part of the supported set.
func (t TxType) isKnown() bool {
	_, exists := feeMultipliers[t]
	return exists
}

// Fee computes the deterministic fee for a transaction of this type with
// the specified payload size.
func (t TxType) Fee(baseFee uint64, payloadSize int) uint64 {
	return baseFee*feeMultipliers[t] + uint64((payloadSize+99)/100)
}

// =============================================================================

// Set of type specific payloads carried in the transaction data field.
type (
	// RedelegatePayload carries the source validator for a redelegation.
	// The transaction recipient is the destination validator.
	RedelegatePayload struct {
		FromValidatorID AccountID `json:"from_validator_id"`
	}

	// VotePayload carries the governance vote a voter is casting.
	VotePayload struct {
		ProposalID uint64 `json:"proposal_id"`
		Option     string `json:"option"`
	}

	// DepositPayload carries the proposal a governance deposit is for.
	DepositPayload struct {
		ProposalID uint64 `json:"proposal_id"`
	}

	// ValidatorPayload carries the description for validator registration
	// and edits. The transaction value is the self stake.
	ValidatorPayload struct {
		Moniker    string  `json:"moniker"`
		Website    string  `json:"website,omitempty"`
		Commission float64 `json:"commission"`
	}

	// ProposalPayload carries the content of a governance proposal. The
	// transaction value is the initial deposit. Only the fields relevant
	// to the proposal kind are set.
	ProposalPayload struct {
		Kind          string    `json:"kind"`
		Title         string    `json:"title"`
		Description   string    `json:"description"`
		ParamModule   string    `json:"param_module,omitempty"`
		ParamName     string    `json:"param_name,omitempty"`
		ParamValue    float64   `json:"param_value,omitempty"`
		Recipient     AccountID `json:"recipient,omitempty"`
		Amount        uint64    `json:"amount,omitempty"`
		UpgradeName   string    `json:"upgrade_name,omitempty"`
		UpgradeHeight uint64    `json:"upgrade_height,omitempty"`
	}
)

// =============================================================================

// Tx is the transactional information between two parties.
type Tx struct {
	ID        string    `json:"id"`        // Unique id for this transaction.
	FromID    AccountID `json:"from"`      // Account sending the transaction. Empty means protocol minted.
	ToID      AccountID `json:"to"`        // Account receiving the benefit of the transaction. Empty for vote style actions.
	Value     uint64    `json:"value"`     // Monetary value in the smallest denomination.
	Type      TxType    `json:"type"`      // What this transaction does when applied.
	Data      []byte    `json:"data"`      // Type specific payload.
	Fee       uint64    `json:"fee"`       // Fee derived from the type and payload size.
	TimeStamp uint64    `json:"timestamp"` // Time the transaction was created.
	Nonce     uint64    `json:"nonce"`     // Anti replay value, must increase per account.
}

// NewTx constructs a new transaction with the fee computed from the type
// specific schedule. The hash and signature are produced by Sign.
func NewTx(baseFee uint64, nonce uint64, fromID AccountID, toID AccountID, value uint64, typ TxType, data []byte) (Tx, error) {
	if !typ.isKnown() {
		return Tx{}, fmt.Errorf("unknown transaction type %q", typ)
	}

	if fromID != "" && !fromID.IsAccountID() {
		return Tx{}, fmt.Errorf("from account is not properly formatted")
	}

	if toID != "" && !toID.IsAccountID() {
		return Tx{}, fmt.Errorf("to account is not properly formatted")
	}

	tx := Tx{
		ID:        uuid.NewString(),
		FromID:    fromID,
		ToID:      toID,
		Value:     value,
		Type:      typ,
		Data:      data,
		Fee:       typ.Fee(baseFee, len(data)),
		TimeStamp: uint64(time.Now().UTC().Unix()),
		Nonce:     nonce,
	}

	return tx, nil
}

// Sign uses the specified private key to sign the transaction. It fails if
// the derived address of the key does not match the declared from address.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (SignedTx, error) {
	if tx.FromID == "" {
		return SignedTx{}, ErrProtocolTx
	}

	address, err := signature.PublicKeyToAddress(privateKey.PublicKey)
	if err != nil {
		return SignedTx{}, err
	}

	if AccountID(address) != tx.FromID {
		return SignedTx{}, ErrAddressMismatch
	}

	// Sign the transaction with the private key to produce a signature.
	v, r, s, err := signature.Sign(tx, privateKey)
	if err != nil {
		return SignedTx{}, err
	}

	signedTx := SignedTx{
		Tx:   tx,
		Hash: signature.Hash(tx),
		V:    v,
		R:    r,
		S:    s,
	}

	return signedTx, nil
}

// =============================================================================

// SignedTx is a signed version of the transaction. This is how clients like
// a wallet provide transactions for inclusion into the blockchain.
type SignedTx struct {
	Tx
	Hash string   `json:"hash"` // Content hash over the canonical fields.
	V    *big.Int `json:"v"`    // Recovery identifier.
	R    *big.Int `json:"r"`    // First coordinate of the ECDSA signature.
	S    *big.Int `json:"s"`    // Second coordinate of the ECDSA signature.
}

// NewMiningRewardTx constructs a protocol minted transaction that credits
// the beneficiary with the mining reward. It carries no sender, no fee and
// no signature.
func NewMiningRewardTx(beneficiaryID AccountID, reward uint64) SignedTx {
	tx := Tx{
		ID:        uuid.NewString(),
		ToID:      beneficiaryID,
		Value:     reward,
		Type:      TxTypeMiningReward,
		TimeStamp: uint64(time.Now().UTC().Unix()),
	}

	return SignedTx{
		Tx:   tx,
		Hash: signature.Hash(tx),
	}
}

// Validate verifies the transaction is well formed and, for user
// transactions, that the signature recovers to the declared from address.
// It is a pure predicate with no side effects.
func (tx SignedTx) Validate() error {
	if !tx.Type.isKnown() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTx, tx.Type)
	}

	// Protocol minted transactions carry no sender and no signature.
	if tx.FromID == "" {
		if tx.Type != TxTypeMiningReward {
			return fmt.Errorf("%w: type %q requires a sender", ErrInvalidTx, tx.Type)
		}
		if tx.Value == 0 {
			return fmt.Errorf("%w: protocol transaction with zero value", ErrInvalidTx)
		}
		if tx.ToID == "" || !tx.ToID.IsAccountID() {
			return fmt.Errorf("%w: protocol transaction requires a recipient", ErrInvalidTx)
		}
		if tx.Hash != signature.Hash(tx.Tx) {
			return fmt.Errorf("%w: hash mismatch", ErrInvalidTx)
		}
		return nil
	}

	if tx.Type == TxTypeMiningReward {
		return fmt.Errorf("%w: mining rewards cannot carry a sender", ErrInvalidTx)
	}

	if !tx.FromID.IsAccountID() {
		return fmt.Errorf("%w: invalid from account", ErrInvalidTx)
	}

	if tx.Type.needsRecipient() {
		if tx.ToID == "" || !tx.ToID.IsAccountID() {
			return fmt.Errorf("%w: type %q requires a recipient", ErrInvalidTx, tx.Type)
		}
	}

	if tx.Value == 0 && !tx.Type.allowsZeroValue() {
		return fmt.Errorf("%w: type %q requires a positive value", ErrInvalidTx, tx.Type)
	}

	if tx.Hash != signature.Hash(tx.Tx) {
		return fmt.Errorf("%w: hash mismatch", ErrInvalidTx)
	}

	if tx.V == nil || tx.R == nil || tx.S == nil {
		return fmt.Errorf("%w: missing signature", ErrInvalidTx)
	}

	if err := signature.VerifySignature(tx.V, tx.R, tx.S); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTx, err)
	}

	// The signature must recover to the declared sender. This is the
	// authorization check.
	address, err := signature.FromAddress(tx.Tx, tx.V, tx.R, tx.S)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTx, err)
	}
	if AccountID(address) != tx.FromID {
		return fmt.Errorf("%w: signature does not match the from address", ErrInvalidTx)
	}

	return nil
}

// Cost returns the total value the sender account must cover.
func (tx SignedTx) Cost() uint64 {
	return tx.Value + tx.Fee
}

// Size returns the serialized byte size used for the block size budget.
func (tx SignedTx) Size() int {
	data, err := json.Marshal(tx)
	if err != nil {
		return 0
	}
	return len(data)
}

// SignatureString returns the signature as a string.
func (tx SignedTx) SignatureString() string {
	if tx.V == nil {
		return ""
	}
	return signature.SignatureString(tx.V, tx.R, tx.S)
}

// String implements the fmt.Stringer interface for logging.
func (tx SignedTx) String() string {
	from := string(tx.FromID)
	if from == "" {
		from = "protocol"
	}

	return fmt.Sprintf("%s:%d", from, tx.Nonce)
}

// =============================================================================

// MerkleHash implements the merkle Hashable interface for providing a hash
// of a transaction for the block commitment.
func (tx SignedTx) MerkleHash() ([]byte, error) {
	return hex.DecodeString(tx.Hash[2:])
}

// Equals implements the merkle Hashable interface for providing an equality
// check between two transactions.
func (tx SignedTx) Equals(otherTx SignedTx) bool {
	return tx.Hash == otherTx.Hash
}

package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/genesis"
	"github.com/stakechain/stakechain/foundation/blockchain/governance"
)

// applyBlockEffects dispatches the module side of every transaction in a
// freshly committed block. The ledger side already ran in ApplyBlock; a
// module rejection here refunds whatever the ledger parked in a pool so
// the two always agree. Failures are reported and skipped, matching how
// the ledger treats a failing transaction.
func (s *State) applyBlockEffects(block database.Block) {
	now := time.Unix(int64(block.Header.TimeStamp), 0).UTC()

	for _, tx := range block.Trans {
		if tx.FromID == "" {
			continue
		}

		if err := s.applyTxEffect(tx, now); err != nil {
			s.evHandler("state: applyBlockEffects: WARNING: tx[%s]: %s", tx, err)
		}
	}

	s.settleBlockReward(block)
}

// applyTxEffect routes one transaction to the module that owns its type.
func (s *State) applyTxEffect(tx database.SignedTx, now time.Time) error {
	switch tx.Type {

	case database.TxTypeCreateValidator:
		var payload database.ValidatorPayload
		if err := json.Unmarshal(tx.Data, &payload); err != nil {
			return s.refundStake(tx, fmt.Errorf("create validator payload: %w", err))
		}
		if err := s.validators.Register(tx.FromID, tx.Value, payload.Commission, payload.Moniker, payload.Website); err != nil {
			return s.refundStake(tx, err)
		}

	case database.TxTypeEditValidator:
		var payload database.ValidatorPayload
		if err := json.Unmarshal(tx.Data, &payload); err != nil {
			return fmt.Errorf("edit validator payload: %w", err)
		}
		return s.validators.Edit(tx.FromID, payload.Commission, payload.Moniker, payload.Website)

	case database.TxTypeDelegate:
		if err := s.validators.Delegate(tx.FromID, tx.ToID, tx.Value); err != nil {
			return s.refundStake(tx, err)
		}

	case database.TxTypeUndelegate:
		// No value moved at apply time. The ledger credit happens when the
		// unbonding entry matures.
		_, err := s.validators.Undelegate(tx.FromID, tx.ToID, tx.Value, now)
		return err

	case database.TxTypeRedelegate:
		var payload database.RedelegatePayload
		if err := json.Unmarshal(tx.Data, &payload); err != nil {
			return fmt.Errorf("redelegate payload: %w", err)
		}
		_, err := s.validators.Redelegate(tx.FromID, payload.FromValidatorID, tx.ToID, tx.Value, now)
		return err

	case database.TxTypeSubmitProposal:
		var payload database.ProposalPayload
		if err := json.Unmarshal(tx.Data, &payload); err != nil {
			return s.refundDeposit(tx, fmt.Errorf("proposal payload: %w", err))
		}
		if _, err := s.proposals.SubmitProposal(tx.FromID, payload, tx.Value, now); err != nil {
			return s.refundDeposit(tx, err)
		}

	case database.TxTypeDeposit:
		var payload database.DepositPayload
		if err := json.Unmarshal(tx.Data, &payload); err != nil {
			return s.refundDeposit(tx, fmt.Errorf("deposit payload: %w", err))
		}
		if err := s.proposals.AddDeposit(payload.ProposalID, tx.FromID, tx.Value, now); err != nil {
			return s.refundDeposit(tx, err)
		}

	case database.TxTypeVote:
		var payload database.VotePayload
		if err := json.Unmarshal(tx.Data, &payload); err != nil {
			return fmt.Errorf("vote payload: %w", err)
		}
		option, err := governance.ParseOption(payload.Option)
		if err != nil {
			return err
		}
		return s.proposals.Vote(payload.ProposalID, tx.FromID, option, now)
	}

	return nil
}

// refundStake returns value the ledger parked in the staking pool for a
// transaction the registry rejected.
func (s *State) refundStake(tx database.SignedTx, cause error) error {
	if tx.Value > 0 {
		if err := s.db.Move(database.StakingPoolAccount, tx.FromID, tx.Value); err != nil {
			return fmt.Errorf("refund after %s: %w", cause, err)
		}
	}
	return cause
}

// refundDeposit returns value the ledger parked in the governance pool
// for a transaction the manager rejected.
func (s *State) refundDeposit(tx database.SignedTx, cause error) error {
	if tx.Value > 0 {
		if err := s.db.Move(database.GovDepositAccount, tx.FromID, tx.Value); err != nil {
			return fmt.Errorf("refund after %s: %w", cause, err)
		}
	}
	return cause
}

// settleBlockReward splits the block income with the delegators when the
// beneficiary is a registered validator. The ledger credited the whole
// reward and all fees to the beneficiary during apply; the delegator
// shares move out of that account here.
func (s *State) settleBlockReward(block database.Block) {
	beneficiary := block.Header.BeneficiaryID

	if _, err := s.validators.Query(beneficiary); err != nil {
		return
	}

	s.validators.MarkBlockProposed(beneficiary)

	var income uint64
	for _, tx := range block.Trans {
		if tx.FromID == "" {
			income += tx.Value
			continue
		}
		income += tx.Fee
	}
	if income == 0 {
		return
	}

	shares, err := s.validators.DistributeReward(beneficiary, income)
	if err != nil {
		s.evHandler("state: settleBlockReward: WARNING: %s", err)
		return
	}

	for delegatorID, amount := range shares.Delegators {
		if err := s.db.Move(beneficiary, delegatorID, amount); err != nil {
			s.evHandler("state: settleBlockReward: WARNING: delegator[%s]: %s", delegatorID, err)
		}
	}
}

// =============================================================================
// Maintenance sweeps, driven by the worker.

// SettleUnbonding releases every matured unbonding entry, crediting the
// delegator from the staking pool.
func (s *State) SettleUnbonding(now time.Time) int {
	entries := s.validators.SettleUnbonding(now)

	for _, entry := range entries {
		if err := s.db.Move(database.StakingPoolAccount, entry.DelegatorID, entry.Amount); err != nil {
			s.evHandler("state: SettleUnbonding: WARNING: delegator[%s]: %s", entry.DelegatorID, err)
			continue
		}
		s.evHandler("state: SettleUnbonding: released[%d] to[%s]", entry.Amount, entry.DelegatorID)
	}

	return len(entries)
}

// SyncGovernance advances every proposal whose deposit or voting period
// has elapsed.
func (s *State) SyncGovernance(now time.Time) []uint64 {
	return s.proposals.UpdateExpiredProposals(now)
}

// JailValidator jails and slashes a validator for the specified reason.
// The slashed stake moves from the staking pool to the community pool, it
// is not destroyed.
func (s *State) JailValidator(validatorID database.AccountID, reason string, now time.Time) (uint64, error) {
	slashed, err := s.validators.Jail(validatorID, reason, now)
	if err != nil {
		return 0, err
	}

	if slashed > 0 {
		if err := s.db.Move(database.StakingPoolAccount, database.CommunityPoolAccount, slashed); err != nil {
			s.evHandler("state: JailValidator: WARNING: slash move: %s", err)
		}
	}

	return slashed, nil
}

// UnjailValidator returns a jailed validator to the active set once its
// cooldown has elapsed.
func (s *State) UnjailValidator(validatorID database.AccountID, now time.Time) error {
	return s.validators.Unjail(validatorID, now)
}

// ReportMissedBlock records a missed block for the validator and moves
// any slash from an automatic jailing into the community pool.
func (s *State) ReportMissedBlock(validatorID database.AccountID, now time.Time) error {
	slashed, err := s.validators.OnMissedBlock(validatorID, now)
	if err != nil {
		return err
	}

	if slashed > 0 {
		if err := s.db.Move(database.StakingPoolAccount, database.CommunityPoolAccount, slashed); err != nil {
			s.evHandler("state: ReportMissedBlock: WARNING: slash move: %s", err)
		}
	}

	return nil
}

// StakingParams returns the current staking parameters.
func (s *State) StakingParams() genesis.StakingParams {
	return s.validators.Params()
}

// GovernanceParams returns the current governance parameters.
func (s *State) GovernanceParams() genesis.GovernanceParams {
	return s.proposals.Params()
}

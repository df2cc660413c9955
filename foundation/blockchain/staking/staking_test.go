package staking_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/genesis"
	"github.com/stakechain/stakechain/foundation/blockchain/staking"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// The accounts in these tests never touch the ledger, so readable ids
// stand in for real addresses.
const (
	val1 database.AccountID = "validator-one"
	val2 database.AccountID = "validator-two"
	del1 database.AccountID = "delegator-one"
	del2 database.AccountID = "delegator-two"
)

func testParams() genesis.StakingParams {
	return genesis.StakingParams{
		MinSelfStake:      1000,
		UnbondingSeconds:  3600,
		SlashFraction:     0.10,
		DowntimeThreshold: 3,
		JailCooldownSecs:  600,
	}
}

// =============================================================================

func Test_RegisterRules(t *testing.T) {
	t.Log("Given the need to enforce the validator registration rules.")
	{
		reg := staking.New(testParams(), nil)

		if err := reg.Register(val1, 500, 0.1, "one", ""); !errors.Is(err, staking.ErrInsufficientSelfStake) {
			t.Errorf("\t%s\tShould reject a self stake under the minimum: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject a self stake under the minimum.", success)
		}

		if err := reg.Register(val1, 1000, 1.5, "one", ""); !errors.Is(err, staking.ErrInvalidCommission) {
			t.Errorf("\t%s\tShould reject a commission above one: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject a commission above one.", success)
		}

		if err := reg.Register(val1, 1000, 0.1, "one", ""); err != nil {
			t.Fatalf("\t%s\tShould register a valid validator: %v", failed, err)
		}
		t.Logf("\t%s\tShould register a valid validator.", success)

		if err := reg.Register(val1, 2000, 0.1, "one", ""); !errors.Is(err, staking.ErrAlreadyRegistered) {
			t.Errorf("\t%s\tShould reject a duplicate registration: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject a duplicate registration.", success)
		}

		val, err := reg.Query(val1)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to query the validator: %v", failed, err)
		}
		if val.Status != staking.StatusActive || val.VotingPower() != 1000 {
			t.Errorf("\t%s\tShould start active with its self stake as power: %+v", failed, val)
		} else {
			t.Logf("\t%s\tShould start active with its self stake as power.", success)
		}
	}
}

func Test_DelegateUndelegate(t *testing.T) {
	now := time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC)

	t.Log("Given the need to track delegations and unbonding entries.")
	{
		reg := staking.New(testParams(), nil)

		if err := reg.Register(val1, 1000, 0.1, "one", ""); err != nil {
			t.Fatalf("\t%s\tShould register the validator: %v", failed, err)
		}

		if err := reg.Delegate(del1, val1, 500); err != nil {
			t.Fatalf("\t%s\tShould accept a delegation: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept a delegation.", success)

		if err := reg.Delegate(del1, val2, 500); !errors.Is(err, staking.ErrValidatorNotFound) {
			t.Errorf("\t%s\tShould reject delegating to an unknown validator: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject delegating to an unknown validator.", success)
		}

		if power := reg.VotingPower(val1); power != 1500 {
			t.Errorf("\t%s\tShould add delegations to the voting power: got %d", failed, power)
		} else {
			t.Logf("\t%s\tShould add delegations to the voting power.", success)
		}

		if _, err := reg.Undelegate(del1, val1, 600, now); !errors.Is(err, staking.ErrInsufficientDelegation) {
			t.Errorf("\t%s\tShould reject undelegating more than delegated: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject undelegating more than delegated.", success)
		}

		entry, err := reg.Undelegate(del1, val1, 200, now)
		if err != nil {
			t.Fatalf("\t%s\tShould accept a partial undelegation: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept a partial undelegation.", success)

		expCompletion := now.Add(3600 * time.Second)
		if !entry.CompletionTime.Equal(expCompletion) {
			t.Errorf("\t%s\tShould stamp the completion time: got %v, exp %v", failed, entry.CompletionTime, expCompletion)
		} else {
			t.Logf("\t%s\tShould stamp the completion time.", success)
		}

		if power := reg.VotingPower(val1); power != 1300 {
			t.Errorf("\t%s\tShould remove unbonding stake from the power immediately: got %d", failed, power)
		} else {
			t.Logf("\t%s\tShould remove unbonding stake from the power immediately.", success)
		}

		// Nothing matures before the completion time.
		if matured := reg.SettleUnbonding(now.Add(time.Minute)); len(matured) != 0 {
			t.Errorf("\t%s\tShould not settle before completion: got %d entries", failed, len(matured))
		} else {
			t.Logf("\t%s\tShould not settle before completion.", success)
		}

		matured := reg.SettleUnbonding(expCompletion)
		if len(matured) != 1 || matured[0].Amount != 200 || matured[0].DelegatorID != del1 {
			t.Errorf("\t%s\tShould settle the matured entry: %+v", failed, matured)
		} else {
			t.Logf("\t%s\tShould settle the matured entry.", success)
		}

		if pending := reg.PendingUnbondings(); len(pending) != 0 {
			t.Errorf("\t%s\tShould have no pending entries after settlement: got %d", failed, len(pending))
		} else {
			t.Logf("\t%s\tShould have no pending entries after settlement.", success)
		}
	}
}

func Test_Redelegate(t *testing.T) {
	now := time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC)

	t.Log("Given the need to move stake between validators without unbonding.")
	{
		reg := staking.New(testParams(), nil)

		if err := reg.Register(val1, 1000, 0.1, "one", ""); err != nil {
			t.Fatalf("\t%s\tShould register the first validator: %v", failed, err)
		}
		if err := reg.Register(val2, 1000, 0.1, "two", ""); err != nil {
			t.Fatalf("\t%s\tShould register the second validator: %v", failed, err)
		}

		if err := reg.Delegate(del1, val1, 400); err != nil {
			t.Fatalf("\t%s\tShould accept the delegation: %v", failed, err)
		}

		if _, err := reg.Redelegate(del1, val1, val2, 300, now); err != nil {
			t.Fatalf("\t%s\tShould accept the redelegation: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept the redelegation.", success)

		if power := reg.VotingPower(val1); power != 1100 {
			t.Errorf("\t%s\tShould reduce the source power immediately: got %d", failed, power)
		} else {
			t.Logf("\t%s\tShould reduce the source power immediately.", success)
		}

		if power := reg.VotingPower(val2); power != 1300 {
			t.Errorf("\t%s\tShould grow the destination power immediately: got %d", failed, power)
		} else {
			t.Logf("\t%s\tShould grow the destination power immediately.", success)
		}

		if amount := reg.Delegation(del1, val2); amount != 300 {
			t.Errorf("\t%s\tShould track the moved delegation: got %d", failed, amount)
		} else {
			t.Logf("\t%s\tShould track the moved delegation.", success)
		}
	}
}

func Test_JailSlashUnjail(t *testing.T) {
	now := time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC)

	t.Log("Given the need to jail, slash and later unjail a validator.")
	{
		reg := staking.New(testParams(), nil)

		if err := reg.Register(val1, 1000, 0.1, "one", ""); err != nil {
			t.Fatalf("\t%s\tShould register the validator: %v", failed, err)
		}
		if err := reg.Delegate(del1, val1, 500); err != nil {
			t.Fatalf("\t%s\tShould accept the delegation: %v", failed, err)
		}

		slashed, err := reg.Jail(val1, "double sign", now)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to jail the validator: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to jail the validator.", success)

		// Ten percent of 1000 self stake and 500 delegated.
		if slashed != 150 {
			t.Errorf("\t%s\tShould slash ten percent across all stake: got %d", failed, slashed)
		} else {
			t.Logf("\t%s\tShould slash ten percent across all stake.", success)
		}

		val, _ := reg.Query(val1)
		if val.Status != staking.StatusJailed || !val.Jailed {
			t.Errorf("\t%s\tShould mark the validator jailed: %+v", failed, val)
		} else {
			t.Logf("\t%s\tShould mark the validator jailed.", success)
		}
		if val.SelfStake != 900 || val.TotalDelegated != 450 {
			t.Errorf("\t%s\tShould reduce stake pro rata: self %d delegated %d", failed, val.SelfStake, val.TotalDelegated)
		} else {
			t.Logf("\t%s\tShould reduce stake pro rata.", success)
		}
		if len(val.SlashEvents) != 1 || val.SlashEvents[0].Reason != "double sign" {
			t.Errorf("\t%s\tShould record the slashing event.", failed)
		} else {
			t.Logf("\t%s\tShould record the slashing event.", success)
		}

		if _, err := reg.Jail(val1, "again", now); !errors.Is(err, staking.ErrAlreadyJailed) {
			t.Errorf("\t%s\tShould reject jailing an already jailed validator: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject jailing an already jailed validator.", success)
		}

		if err := reg.Delegate(del2, val1, 100); !errors.Is(err, staking.ErrValidatorJailed) {
			t.Errorf("\t%s\tShould reject delegating to a jailed validator: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject delegating to a jailed validator.", success)
		}

		if err := reg.Unjail(val1, now.Add(time.Minute)); !errors.Is(err, staking.ErrJailPeriodNotElapsed) {
			t.Errorf("\t%s\tShould reject unjailing before the cooldown: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject unjailing before the cooldown.", success)
		}

		if err := reg.Unjail(val1, now.Add(601*time.Second)); err != nil {
			t.Fatalf("\t%s\tShould unjail after the cooldown: %v", failed, err)
		}
		t.Logf("\t%s\tShould unjail after the cooldown.", success)

		val, _ = reg.Query(val1)
		if val.Status != staking.StatusInactive {
			t.Errorf("\t%s\tShould come back inactive when under the minimum stake: %s", failed, val.Status)
		} else {
			t.Logf("\t%s\tShould come back inactive when under the minimum stake.", success)
		}

		if err := reg.Unjail(val1, now.Add(time.Hour)); !errors.Is(err, staking.ErrNotJailed) {
			t.Errorf("\t%s\tShould reject unjailing a free validator: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject unjailing a free validator.", success)
		}
	}
}

func Test_DowntimeAutoJail(t *testing.T) {
	now := time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC)

	t.Log("Given the need to jail a validator that keeps missing blocks.")
	{
		reg := staking.New(testParams(), nil)

		if err := reg.Register(val1, 1000, 0.1, "one", ""); err != nil {
			t.Fatalf("\t%s\tShould register the validator: %v", failed, err)
		}

		for i := 0; i < 2; i++ {
			slashed, err := reg.OnMissedBlock(val1, now)
			if err != nil {
				t.Fatalf("\t%s\tShould record a missed block: %v", failed, err)
			}
			if slashed != 0 {
				t.Fatalf("\t%s\tShould not slash under the threshold.", failed)
			}
		}
		t.Logf("\t%s\tShould tolerate misses under the threshold.", success)

		slashed, err := reg.OnMissedBlock(val1, now)
		if err != nil {
			t.Fatalf("\t%s\tShould process the threshold miss: %v", failed, err)
		}
		if slashed != 100 {
			t.Errorf("\t%s\tShould slash on the threshold miss: got %d", failed, slashed)
		} else {
			t.Logf("\t%s\tShould slash on the threshold miss.", success)
		}

		val, _ := reg.Query(val1)
		if !val.Jailed {
			t.Errorf("\t%s\tShould jail on the threshold miss.", failed)
		} else {
			t.Logf("\t%s\tShould jail on the threshold miss.", success)
		}

		if err := reg.Unjail(val1, now.Add(time.Hour)); err != nil {
			t.Fatalf("\t%s\tShould unjail after the cooldown: %v", failed, err)
		}

		val, _ = reg.Query(val1)
		if val.MissedBlocks != 0 {
			t.Errorf("\t%s\tShould reset the missed counter on unjail: got %d", failed, val.MissedBlocks)
		} else {
			t.Logf("\t%s\tShould reset the missed counter on unjail.", success)
		}
	}
}

func Test_DistributeReward(t *testing.T) {
	t.Log("Given the need to split rewards between validator and delegators.")
	{
		reg := staking.New(testParams(), nil)

		if err := reg.Register(val1, 1000, 0.10, "one", ""); err != nil {
			t.Fatalf("\t%s\tShould register the validator: %v", failed, err)
		}
		if err := reg.Delegate(del1, val1, 300); err != nil {
			t.Fatalf("\t%s\tShould accept the first delegation: %v", failed, err)
		}
		if err := reg.Delegate(del2, val1, 100); err != nil {
			t.Fatalf("\t%s\tShould accept the second delegation: %v", failed, err)
		}

		shares, err := reg.DistributeReward(val1, 100)
		if err != nil {
			t.Fatalf("\t%s\tShould split the reward: %v", failed, err)
		}
		t.Logf("\t%s\tShould split the reward.", success)

		// Commission is 10, the remaining 90 splits 3 to 1 across the
		// delegators, dust staying with the validator.
		if shares.Delegators[del1] != 67 {
			t.Errorf("\t%s\tShould give the larger delegator its share: got %d, exp %d", failed, shares.Delegators[del1], 67)
		} else {
			t.Logf("\t%s\tShould give the larger delegator its share.", success)
		}
		if shares.Delegators[del2] != 22 {
			t.Errorf("\t%s\tShould give the smaller delegator its share: got %d, exp %d", failed, shares.Delegators[del2], 22)
		} else {
			t.Logf("\t%s\tShould give the smaller delegator its share.", success)
		}
		if shares.Validator != 11 {
			t.Errorf("\t%s\tShould keep commission plus dust with the validator: got %d, exp %d", failed, shares.Validator, 11)
		} else {
			t.Logf("\t%s\tShould keep commission plus dust with the validator.", success)
		}

		var total uint64 = shares.Validator
		for _, amount := range shares.Delegators {
			total += amount
		}
		if total != 100 {
			t.Errorf("\t%s\tShould distribute exactly the full reward: got %d", failed, total)
		} else {
			t.Logf("\t%s\tShould distribute exactly the full reward.", success)
		}
	}
}

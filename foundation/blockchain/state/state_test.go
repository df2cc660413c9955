package state_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/genesis"
	"github.com/stakechain/stakechain/foundation/blockchain/governance"
	"github.com/stakechain/stakechain/foundation/blockchain/state"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// =============================================================================

// account bundles a test key with its derived account id and a running
// nonce.
type account struct {
	privateKey *ecdsa.PrivateKey
	id         database.AccountID
	nonce      uint64
}

func newTestAccount(t *testing.T) *account {
	t.Helper()

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}

	id, err := database.PublicKeyToAccountID(privateKey.PublicKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to derive an account id: %v", failed, err)
	}

	return &account{privateKey: privateKey, id: id}
}

// sign builds and signs a transaction, advancing the account's nonce.
func (a *account) sign(t *testing.T, gen genesis.Genesis, to database.AccountID, value uint64, typ database.TxType, data []byte) database.SignedTx {
	t.Helper()

	a.nonce++

	tx, err := database.NewTx(gen.BaseFee, a.nonce, a.id, to, value, typ, data)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a transaction: %v", failed, err)
	}

	signedTx, err := tx.Sign(a.privateKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign a transaction: %v", failed, err)
	}

	return signedTx
}

func newTestState(t *testing.T, gen genesis.Genesis, beneficiaryID database.AccountID) *state.State {
	t.Helper()

	st, err := state.New(state.Config{
		BeneficiaryID: beneficiaryID,
		Genesis:       gen,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
	}

	return st
}

// fastGenesis keeps the proof of work search near instant.
func fastGenesis(balances map[string]uint64) genesis.Genesis {
	gen := genesis.Default(balances)
	gen.Difficulty = 1
	return gen
}

// sumBalances folds every ledger balance, module pools included.
func sumBalances(st *state.State) uint64 {
	var sum uint64
	for _, act := range st.Accounts() {
		sum += act.Balance
	}
	return sum
}

func mine(t *testing.T, st *state.State) database.Block {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	block, err := st.MineBlock(ctx)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to mine a block: %v", failed, err)
	}

	return block
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to marshal the payload: %v", failed, err)
	}

	return data
}

// =============================================================================

func Test_SubmitTransactionRules(t *testing.T) {
	alice := newTestAccount(t)
	bob := newTestAccount(t)
	miner := newTestAccount(t)

	gen := fastGenesis(map[string]uint64{
		string(alice.id): 1000,
	})

	t.Log("Given the need to screen transactions at the mempool door.")
	{
		st := newTestState(t, gen, miner.id)

		good := alice.sign(t, gen, bob.id, 100, database.TxTypeTransfer, nil)
		if err := st.SubmitTransaction(good); err != nil {
			t.Fatalf("\t%s\tShould accept a valid transaction: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept a valid transaction.", success)

		if err := st.SubmitTransaction(good); !errors.Is(err, state.ErrDuplicateTransaction) {
			t.Errorf("\t%s\tShould reject a duplicate submission: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject a duplicate submission.", success)
		}

		reward := database.NewMiningRewardTx(miner.id, gen.MiningReward)
		if err := st.SubmitTransaction(reward); !errors.Is(err, state.ErrInvalidTransaction) {
			t.Errorf("\t%s\tShould reject a protocol transaction: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject a protocol transaction.", success)
		}

		tampered := alice.sign(t, gen, bob.id, 100, database.TxTypeTransfer, nil)
		tampered.Value = 900
		if err := st.SubmitTransaction(tampered); !errors.Is(err, state.ErrInvalidTransaction) {
			t.Errorf("\t%s\tShould reject a tampered transaction: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject a tampered transaction.", success)
		}

		overspend := alice.sign(t, gen, bob.id, 1_000_000, database.TxTypeTransfer, nil)
		if err := st.SubmitTransaction(overspend); !errors.Is(err, database.ErrInsufficientBalance) {
			t.Errorf("\t%s\tShould reject an overspend: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject an overspend.", success)
		}

		if count := st.MempoolLen(); count != 1 {
			t.Errorf("\t%s\tShould hold only the valid transaction: got %d", failed, count)
		} else {
			t.Logf("\t%s\tShould hold only the valid transaction.", success)
		}
	}
}

func Test_MineBlockAndConservation(t *testing.T) {
	alice := newTestAccount(t)
	bob := newTestAccount(t)
	miner := newTestAccount(t)

	gen := fastGenesis(map[string]uint64{
		string(alice.id): 1000,
	})

	t.Log("Given the need to mine a block and preserve the total supply.")
	{
		st := newTestState(t, gen, miner.id)

		transfer := alice.sign(t, gen, bob.id, 100, database.TxTypeTransfer, nil)
		if err := st.SubmitTransaction(transfer); err != nil {
			t.Fatalf("\t%s\tShould accept the transfer: %v", failed, err)
		}

		block := mine(t, st)
		t.Logf("\t%s\tShould be able to mine a block.", success)

		if st.Height() != 2 {
			t.Errorf("\t%s\tShould grow the chain by one block: height %d", failed, st.Height())
		} else {
			t.Logf("\t%s\tShould grow the chain by one block.", success)
		}

		if st.LatestBlock().Hash() != block.Hash() {
			t.Errorf("\t%s\tShould make the mined block the head.", failed)
		} else {
			t.Logf("\t%s\tShould make the mined block the head.", success)
		}

		if count := st.MempoolLen(); count != 0 {
			t.Errorf("\t%s\tShould clear the confirmed transaction from the pool: got %d", failed, count)
		} else {
			t.Logf("\t%s\tShould clear the confirmed transaction from the pool.", success)
		}

		fee := transfer.Fee
		if bal, _ := st.QueryAccount(miner.id); bal.Balance != gen.MiningReward+fee {
			t.Errorf("\t%s\tShould credit the miner the reward plus the fee: got %d", failed, bal.Balance)
		} else {
			t.Logf("\t%s\tShould credit the miner the reward plus the fee.", success)
		}

		if sum, supply := sumBalances(st), st.TotalSupply(); sum != supply {
			t.Errorf("\t%s\tShould keep the sum of balances equal to the total supply: sum %d, supply %d", failed, sum, supply)
		} else {
			t.Logf("\t%s\tShould keep the sum of balances equal to the total supply.", success)
		}

		stats := st.Stats()
		if stats.BlocksMined != 1 || stats.TransConfirmed != 2 {
			t.Errorf("\t%s\tShould update the chain counters: %+v", failed, stats)
		} else {
			t.Logf("\t%s\tShould update the chain counters.", success)
		}

		if err := st.ValidateChain(); err != nil {
			t.Errorf("\t%s\tShould have a valid chain: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould have a valid chain.", success)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := st.MineBlock(ctx); !errors.Is(err, state.ErrNoTransactions) {
			t.Errorf("\t%s\tShould refuse to mine an empty block: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould refuse to mine an empty block.", success)
		}
	}
}

func Test_SingleMiningOperation(t *testing.T) {
	alice := newTestAccount(t)
	bob := newTestAccount(t)
	miner := newTestAccount(t)

	gen := fastGenesis(map[string]uint64{
		string(alice.id): 1000,
	})

	// A difficulty this deep cannot be solved before the cancel.
	gen.Difficulty = 16

	t.Log("Given the need to run at most one mining operation at a time.")
	{
		st := newTestState(t, gen, miner.id)

		transfer := alice.sign(t, gen, bob.id, 100, database.TxTypeTransfer, nil)
		if err := st.SubmitTransaction(transfer); err != nil {
			t.Fatalf("\t%s\tShould accept the transfer: %v", failed, err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := st.MineBlock(ctx)
			done <- err
		}()

		deadline := time.Now().Add(5 * time.Second)
		for !st.IsMining() {
			if time.Now().After(deadline) {
				cancel()
				t.Fatalf("\t%s\tShould report an in flight mining operation.", failed)
			}
			time.Sleep(time.Millisecond)
		}
		t.Logf("\t%s\tShould report an in flight mining operation.", success)

		if _, err := st.MineBlock(ctx); !errors.Is(err, state.ErrAlreadyMining) {
			t.Errorf("\t%s\tShould reject a second mining operation: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject a second mining operation.", success)
		}

		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("\t%s\tShould stop the first operation on cancel: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould stop the first operation on cancel.", success)
		}

		if count := st.MempoolLen(); count != 1 {
			t.Errorf("\t%s\tShould keep the transaction for the next attempt: got %d", failed, count)
		} else {
			t.Logf("\t%s\tShould keep the transaction for the next attempt.", success)
		}
	}
}

func Test_StakingThroughBlocks(t *testing.T) {
	alice := newTestAccount(t)
	carol := newTestAccount(t)
	miner := newTestAccount(t)

	gen := fastGenesis(map[string]uint64{
		string(alice.id): 100_000,
		string(carol.id): 100_000,
	})

	t.Log("Given the need to drive the validator registry from mined blocks.")
	{
		st := newTestState(t, gen, miner.id)

		payload := mustMarshal(t, database.ValidatorPayload{
			Moniker:    "alice-node",
			Commission: 0.10,
		})
		create := alice.sign(t, gen, "", gen.Staking.MinSelfStake, database.TxTypeCreateValidator, payload)
		if err := st.SubmitTransaction(create); err != nil {
			t.Fatalf("\t%s\tShould accept the registration: %v", failed, err)
		}

		mine(t, st)

		val, err := st.QueryValidator(alice.id)
		if err != nil {
			t.Fatalf("\t%s\tShould register the validator from the block: %v", failed, err)
		}
		if val.SelfStake != gen.Staking.MinSelfStake {
			t.Errorf("\t%s\tShould record the self stake: got %d", failed, val.SelfStake)
		}
		t.Logf("\t%s\tShould register the validator from the block.", success)

		delegate := carol.sign(t, gen, alice.id, 500, database.TxTypeDelegate, nil)
		if err := st.SubmitTransaction(delegate); err != nil {
			t.Fatalf("\t%s\tShould accept the delegation: %v", failed, err)
		}

		mine(t, st)

		if amount := st.Delegation(carol.id, alice.id); amount != 500 {
			t.Errorf("\t%s\tShould record the delegation from the block: got %d", failed, amount)
		} else {
			t.Logf("\t%s\tShould record the delegation from the block.", success)
		}

		pool, _ := st.QueryAccount(database.StakingPoolAccount)
		if pool.Balance != gen.Staking.MinSelfStake+500 {
			t.Errorf("\t%s\tShould hold all stake in the staking pool: got %d", failed, pool.Balance)
		} else {
			t.Logf("\t%s\tShould hold all stake in the staking pool.", success)
		}

		undelegate := carol.sign(t, gen, alice.id, 200, database.TxTypeUndelegate, nil)
		if err := st.SubmitTransaction(undelegate); err != nil {
			t.Fatalf("\t%s\tShould accept the undelegation: %v", failed, err)
		}

		mine(t, st)

		carolBefore, _ := st.QueryAccount(carol.id)

		// The stake stays locked until the unbonding period elapses.
		if n := st.SettleUnbonding(time.Now()); n != 0 {
			t.Errorf("\t%s\tShould not release stake before maturity: released %d", failed, n)
		} else {
			t.Logf("\t%s\tShould not release stake before maturity.", success)
		}

		future := time.Now().Add(gen.UnbondingPeriod() + time.Hour)
		if n := st.SettleUnbonding(future); n != 1 {
			t.Fatalf("\t%s\tShould release the matured stake: released %d", failed, n)
		}
		t.Logf("\t%s\tShould release the matured stake.", success)

		carolAfter, _ := st.QueryAccount(carol.id)
		if carolAfter.Balance != carolBefore.Balance+200 {
			t.Errorf("\t%s\tShould credit the delegator at settlement: got %d, exp %d", failed, carolAfter.Balance, carolBefore.Balance+200)
		} else {
			t.Logf("\t%s\tShould credit the delegator at settlement.", success)
		}

		// Jailing moves the slash into the community pool, nothing burns.
		supplyBefore := st.TotalSupply()
		slashed, err := st.JailValidator(alice.id, "double sign", time.Now())
		if err != nil {
			t.Fatalf("\t%s\tShould be able to jail the validator: %v", failed, err)
		}
		if slashed == 0 {
			t.Errorf("\t%s\tShould slash the jailed validator.", failed)
		}
		t.Logf("\t%s\tShould be able to jail the validator.", success)

		community, _ := st.QueryAccount(database.CommunityPoolAccount)
		if community.Balance != slashed {
			t.Errorf("\t%s\tShould move the slash into the community pool: got %d, exp %d", failed, community.Balance, slashed)
		} else {
			t.Logf("\t%s\tShould move the slash into the community pool.", success)
		}

		if st.TotalSupply() != supplyBefore {
			t.Errorf("\t%s\tShould not change the supply when slashing.", failed)
		} else {
			t.Logf("\t%s\tShould not change the supply when slashing.", success)
		}

		if sum, supply := sumBalances(st), st.TotalSupply(); sum != supply {
			t.Errorf("\t%s\tShould keep the sum of balances equal to the total supply: sum %d, supply %d", failed, sum, supply)
		} else {
			t.Logf("\t%s\tShould keep the sum of balances equal to the total supply.", success)
		}
	}
}

func Test_GovernanceThroughBlocks(t *testing.T) {
	alice := newTestAccount(t)
	miner := newTestAccount(t)

	gen := fastGenesis(map[string]uint64{
		string(alice.id): 100_000,
	})

	t.Log("Given the need to drive a proposal from submission to execution.")
	{
		st := newTestState(t, gen, miner.id)

		// Alice registers as a validator so her vote carries power.
		payload := mustMarshal(t, database.ValidatorPayload{
			Moniker:    "alice-node",
			Commission: 0.10,
		})
		create := alice.sign(t, gen, "", gen.Staking.MinSelfStake, database.TxTypeCreateValidator, payload)
		if err := st.SubmitTransaction(create); err != nil {
			t.Fatalf("\t%s\tShould accept the registration: %v", failed, err)
		}
		mine(t, st)

		proposal := mustMarshal(t, database.ProposalPayload{
			Kind:        "parameter_change",
			Title:       "lower the base fee",
			Description: "cut the base fee for the next era",
			ParamModule: "chain",
			ParamName:   "base_fee",
			ParamValue:  2,
		})
		submit := alice.sign(t, gen, "", gen.Governance.MinDeposit, database.TxTypeSubmitProposal, proposal)
		if err := st.SubmitTransaction(submit); err != nil {
			t.Fatalf("\t%s\tShould accept the proposal submission: %v", failed, err)
		}
		mine(t, st)

		p, err := st.QueryProposal(1)
		if err != nil {
			t.Fatalf("\t%s\tShould create the proposal from the block: %v", failed, err)
		}
		if p.Status != governance.StatusVotingPeriod {
			t.Errorf("\t%s\tShould enter voting on a full deposit: %s", failed, p.Status)
		} else {
			t.Logf("\t%s\tShould enter voting on a full deposit.", success)
		}

		deposits, _ := st.QueryAccount(database.GovDepositAccount)
		if deposits.Balance != gen.Governance.MinDeposit {
			t.Errorf("\t%s\tShould hold the deposit in the governance pool: got %d", failed, deposits.Balance)
		} else {
			t.Logf("\t%s\tShould hold the deposit in the governance pool.", success)
		}

		ballot := mustMarshal(t, database.VotePayload{ProposalID: 1, Option: "yes"})
		vote := alice.sign(t, gen, "", 0, database.TxTypeVote, ballot)
		if err := st.SubmitTransaction(vote); err != nil {
			t.Fatalf("\t%s\tShould accept the vote: %v", failed, err)
		}
		mine(t, st)

		p, _ = st.QueryProposal(1)
		if p.Votes[alice.id] != governance.OptionYes {
			t.Errorf("\t%s\tShould record the vote from the block: %v", failed, p.Votes)
		} else {
			t.Logf("\t%s\tShould record the vote from the block.", success)
		}

		// Past the voting window the sweep tallies and executes.
		settled := st.SyncGovernance(time.Now().Add(time.Duration(gen.Governance.VotingPeriodSecs)*time.Second + time.Hour))
		if len(settled) != 1 || settled[0] != 1 {
			t.Fatalf("\t%s\tShould settle the proposal: %v", failed, settled)
		}
		t.Logf("\t%s\tShould settle the proposal.", success)

		p, _ = st.QueryProposal(1)
		if p.Status != governance.StatusPassed || !p.Executed {
			t.Errorf("\t%s\tShould pass and execute the proposal: status %s executed %v", failed, p.Status, p.Executed)
		} else {
			t.Logf("\t%s\tShould pass and execute the proposal.", success)
		}

		if baseFee := st.Genesis().BaseFee; baseFee != 2 {
			t.Errorf("\t%s\tShould apply the parameter change: base fee %d", failed, baseFee)
		} else {
			t.Logf("\t%s\tShould apply the parameter change.", success)
		}

		deposits, _ = st.QueryAccount(database.GovDepositAccount)
		if deposits.Balance != 0 {
			t.Errorf("\t%s\tShould refund the deposit on passing: pool holds %d", failed, deposits.Balance)
		} else {
			t.Logf("\t%s\tShould refund the deposit on passing.", success)
		}

		if sum, supply := sumBalances(st), st.TotalSupply(); sum != supply {
			t.Errorf("\t%s\tShould keep the sum of balances equal to the total supply: sum %d, supply %d", failed, sum, supply)
		} else {
			t.Logf("\t%s\tShould keep the sum of balances equal to the total supply.", success)
		}
	}
}

func Test_SnapshotRoundTrip(t *testing.T) {
	alice := newTestAccount(t)
	bob := newTestAccount(t)
	miner := newTestAccount(t)

	gen := fastGenesis(map[string]uint64{
		string(alice.id): 10_000,
	})

	t.Log("Given the need to rebuild the chain from a snapshot.")
	{
		st := newTestState(t, gen, miner.id)

		for i := 0; i < 2; i++ {
			transfer := alice.sign(t, gen, bob.id, 100, database.TxTypeTransfer, nil)
			if err := st.SubmitTransaction(transfer); err != nil {
				t.Fatalf("\t%s\tShould accept the transfer: %v", failed, err)
			}
			mine(t, st)
		}

		// A pending transaction rides along in the snapshot.
		pending := alice.sign(t, gen, bob.id, 50, database.TxTypeTransfer, nil)
		if err := st.SubmitTransaction(pending); err != nil {
			t.Fatalf("\t%s\tShould accept the pending transfer: %v", failed, err)
		}

		snapshot := st.ExportSnapshot()
		if len(snapshot.Blocks) != 2 {
			t.Fatalf("\t%s\tShould capture every mined block: got %d", failed, len(snapshot.Blocks))
		}
		t.Logf("\t%s\tShould capture every mined block.", success)

		restored, err := state.ImportSnapshot(snapshot, state.Config{BeneficiaryID: miner.id})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to import the snapshot: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to import the snapshot.", success)

		if restored.LatestBlock().Hash() != st.LatestBlock().Hash() {
			t.Errorf("\t%s\tShould restore the same chain head.", failed)
		} else {
			t.Logf("\t%s\tShould restore the same chain head.", success)
		}

		if restored.TotalSupply() != st.TotalSupply() {
			t.Errorf("\t%s\tShould restore the same supply: got %d, exp %d", failed, restored.TotalSupply(), st.TotalSupply())
		} else {
			t.Logf("\t%s\tShould restore the same supply.", success)
		}

		for id, act := range st.Accounts() {
			got, _ := restored.QueryAccount(id)
			if got.Balance != act.Balance {
				t.Errorf("\t%s\tShould restore the balance for %s: got %d, exp %d", failed, id, got.Balance, act.Balance)
			}
		}
		t.Logf("\t%s\tShould restore every balance.", success)

		if restored.MempoolLen() != 1 {
			t.Errorf("\t%s\tShould restore the pending transaction: got %d", failed, restored.MempoolLen())
		} else {
			t.Logf("\t%s\tShould restore the pending transaction.", success)
		}

		if err := restored.ValidateChain(); err != nil {
			t.Errorf("\t%s\tShould restore a valid chain: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould restore a valid chain.", success)
		}
	}
}

func Test_ParamRouting(t *testing.T) {
	miner := newTestAccount(t)

	gen := fastGenesis(nil)

	t.Log("Given the need to route parameter changes to the owning module.")
	{
		st := newTestState(t, gen, miner.id)

		if err := st.SetParam("chain", "mining_reward", 75); err != nil {
			t.Fatalf("\t%s\tShould route a chain parameter: %v", failed, err)
		}
		if reward := st.Genesis().MiningReward; reward != 75 {
			t.Errorf("\t%s\tShould apply the chain parameter: got %d", failed, reward)
		} else {
			t.Logf("\t%s\tShould apply the chain parameter.", success)
		}

		if err := st.SetParam("staking", "min_self_stake", 2000); err != nil {
			t.Fatalf("\t%s\tShould route a staking parameter: %v", failed, err)
		}
		if min := st.StakingParams().MinSelfStake; min != 2000 {
			t.Errorf("\t%s\tShould apply the staking parameter: got %d", failed, min)
		} else {
			t.Logf("\t%s\tShould apply the staking parameter.", success)
		}

		if err := st.SetParam("governance", "quorum", 0.5); err != nil {
			t.Fatalf("\t%s\tShould route a governance parameter: %v", failed, err)
		}
		if quorum := st.GovernanceParams().Quorum; quorum != 0.5 {
			t.Errorf("\t%s\tShould apply the governance parameter: got %v", failed, quorum)
		} else {
			t.Logf("\t%s\tShould apply the governance parameter.", success)
		}

		if err := st.SetParam("lottery", "odds", 1); !errors.Is(err, governance.ErrUnknownParameter) {
			t.Errorf("\t%s\tShould reject an unknown module: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject an unknown module.", success)
		}
	}
}

// Package genesis maintains access to the genesis document and the chain
// parameters it seeds.
package genesis

import (
	"encoding/json"
	"os"
	"time"
)

// StakingParams represents the tunable parameters of the validator registry.
type StakingParams struct {
	MinSelfStake      uint64  `json:"min_self_stake"`     // Minimum self delegation to register a validator.
	UnbondingSeconds  uint64  `json:"unbonding_seconds"`  // Cooldown before an undelegation becomes liquid.
	SlashFraction     float64 `json:"slash_fraction"`     // Fraction of stake removed when a validator is jailed.
	DowntimeThreshold uint32  `json:"downtime_threshold"` // Missed blocks before a validator is auto jailed.
	JailCooldownSecs  uint64  `json:"jail_cooldown_secs"` // Time a validator must remain jailed after a slash.
}

// GovernanceParams represents the tunable parameters of the governance module.
type GovernanceParams struct {
	MinDeposit        uint64  `json:"min_deposit"`         // Deposit required to enter the voting period.
	DepositPeriodSecs uint64  `json:"deposit_period_secs"` // Time a proposal can collect deposits.
	VotingPeriodSecs  uint64  `json:"voting_period_secs"`  // Length of the voting window.
	Quorum            float64 `json:"quorum"`              // Minimum turnout for a vote to count.
	PassThreshold     float64 `json:"pass_threshold"`      // Yes ratio required to pass.
	VetoThreshold     float64 `json:"veto_threshold"`      // Veto ratio that forces rejection.
	BurnVetoDeposits  bool    `json:"burn_veto_deposits"`  // Burn deposits of vetoed proposals.
	MaxTitleLength    int     `json:"max_title_length"`
	MaxDescriptionLen int     `json:"max_description_len"`
}

// Genesis represents the genesis document.
type Genesis struct {
	Date              time.Time         `json:"date"`
	ChainID           uint16            `json:"chain_id"`            // Unique id for this running instance.
	TransPerBlock     uint16            `json:"trans_per_block"`     // Maximum number of transactions in a block.
	MaxBlockBytes     int               `json:"max_block_bytes"`     // Cumulative serialized size budget per block.
	Difficulty        uint              `json:"difficulty"`          // Leading zero hex digits needed to seal a block.
	MinDifficulty     uint              `json:"min_difficulty"`      // Floor for the retargeting heuristic.
	MaxDifficulty     uint              `json:"max_difficulty"`      // Cap for the retargeting heuristic.
	TargetBlockSecs   uint64            `json:"target_block_secs"`   // Desired average inter block time.
	BlocksPerRetarget uint64            `json:"blocks_per_retarget"` // How often difficulty is reevaluated.
	MiningReward      uint64            `json:"mining_reward"`       // Reward minted for sealing a block.
	BaseFee           uint64            `json:"base_fee"`            // Base fee unit for the fee schedule.
	MempoolCapacity   int               `json:"mempool_capacity"`    // Maximum number of pending transactions.
	Balances          map[string]uint64 `json:"balances"`            // Bootstrap balances.
	Staking           StakingParams     `json:"staking"`
	Governance        GovernanceParams  `json:"governance"`
}

// UnbondingPeriod returns the unbonding cooldown as a duration.
func (g Genesis) UnbondingPeriod() time.Duration {
	return time.Duration(g.Staking.UnbondingSeconds) * time.Second
}

// TargetBlockTime returns the desired inter block time as a duration.
func (g Genesis) TargetBlockTime() time.Duration {
	return time.Duration(g.TargetBlockSecs) * time.Second
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Default returns a genesis document with the defaults used by the test
// network and the tooling.
func Default(balances map[string]uint64) Genesis {
	return Genesis{
		Date:              time.Now().UTC(),
		ChainID:           27,
		TransPerBlock:     100,
		MaxBlockBytes:     1 << 20,
		Difficulty:        2,
		MinDifficulty:     1,
		MaxDifficulty:     8,
		TargetBlockSecs:   10,
		BlocksPerRetarget: 10,
		MiningReward:      50,
		BaseFee:           1,
		MempoolCapacity:   1000,
		Balances:          balances,
		Staking: StakingParams{
			MinSelfStake:      1000,
			UnbondingSeconds:  60 * 60 * 24,
			SlashFraction:     0.05,
			DowntimeThreshold: 50,
			JailCooldownSecs:  60 * 60,
		},
		Governance: GovernanceParams{
			MinDeposit:        1000,
			DepositPeriodSecs: 60 * 60 * 24,
			VotingPeriodSecs:  60 * 60 * 24,
			Quorum:            0.334,
			PassThreshold:     0.5,
			VetoThreshold:     0.334,
			BurnVetoDeposits:  false,
			MaxTitleLength:    140,
			MaxDescriptionLen: 10000,
		},
	}
}

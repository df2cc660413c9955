// Package staking maintains the validator registry: registration,
// delegation, unbonding, slashing, jailing, and reward splits. The
// registry never touches the ledger directly; every operation that moves
// value returns the amounts for the chain to apply.
package staking

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/genesis"
)

// Set of errors returned by registry operations.
var (
	ErrAlreadyRegistered      = errors.New("validator already registered")
	ErrInsufficientSelfStake  = errors.New("self stake is under the minimum")
	ErrValidatorNotFound      = errors.New("validator not found")
	ErrValidatorJailed        = errors.New("validator is jailed")
	ErrInsufficientDelegation = errors.New("not enough delegated to remove")
	ErrAlreadyJailed          = errors.New("validator is already jailed")
	ErrNotJailed              = errors.New("validator is not jailed")
	ErrJailPeriodNotElapsed   = errors.New("jail cooldown has not elapsed")
	ErrInvalidCommission      = errors.New("commission must be between 0 and 1")
)

// Status represents where a validator is in its lifecycle.
type Status string

// Set of validator statuses. A validator is never deleted, only moved
// between statuses.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusJailed   Status = "jailed"
)

// =============================================================================

// SlashEvent records a punitive stake reduction.
type SlashEvent struct {
	TimeStamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Amount    uint64    `json:"amount"`
}

// Validator represents a registered validator and its accumulated
// delegation and activity counters.
type Validator struct {
	Address         database.AccountID `json:"address"`
	Moniker         string             `json:"moniker"`
	Website         string             `json:"website,omitempty"`
	Commission      float64            `json:"commission"`
	SelfStake       uint64             `json:"self_stake"`
	TotalDelegated  uint64             `json:"total_delegated"`
	Status          Status             `json:"status"`
	Jailed          bool               `json:"jailed"`
	BlocksProposed  uint64             `json:"blocks_proposed"`
	BlocksValidated uint64             `json:"blocks_validated"`
	MissedBlocks    uint32             `json:"missed_blocks"`
	Rewards         uint64             `json:"rewards"`
	SlashEvents     []SlashEvent       `json:"slash_events,omitempty"`
}

// VotingPower returns the validator's weight: self stake plus everything
// delegated to it.
func (v Validator) VotingPower() uint64 {
	return v.SelfStake + v.TotalDelegated
}

// UnbondingEntry represents stake in flight between a validator and its
// delegator. The value is not liquid until the completion time passes and
// the entry is settled.
type UnbondingEntry struct {
	DelegatorID    database.AccountID `json:"delegator_id"`
	ValidatorID    database.AccountID `json:"validator_id"`
	Amount         uint64             `json:"amount"`
	CompletionTime time.Time          `json:"completion_time"`
}

// RedelegationEntry records stake moving between two validators. The
// voting power moves immediately; the entry tracks the cooldown window.
type RedelegationEntry struct {
	DelegatorID    database.AccountID `json:"delegator_id"`
	FromValidator  database.AccountID `json:"from_validator"`
	ToValidator    database.AccountID `json:"to_validator"`
	Amount         uint64             `json:"amount"`
	CompletionTime time.Time          `json:"completion_time"`
}

// RewardShares is the result of splitting a block reward between a
// validator and its delegators. The chain applies these to the ledger.
type RewardShares struct {
	ValidatorID database.AccountID            `json:"validator_id"`
	Validator   uint64                        `json:"validator"`
	Delegators  map[database.AccountID]uint64 `json:"delegators"`
}

// =============================================================================

// Registry manages the set of validators and their delegations.
type Registry struct {
	mu sync.RWMutex

	validators    map[database.AccountID]*Validator
	delegations   map[database.AccountID]map[database.AccountID]uint64
	unbonding     []UnbondingEntry
	redelegations []RedelegationEntry
	params        genesis.StakingParams

	evHandler func(v string, args ...any)
}

// New constructs a validator registry with the specified parameters.
func New(params genesis.StakingParams, evHandler func(v string, args ...any)) *Registry {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	return &Registry{
		validators:  make(map[database.AccountID]*Validator),
		delegations: make(map[database.AccountID]map[database.AccountID]uint64),
		params:      params,
		evHandler:   ev,
	}
}

// =============================================================================
// Lifecycle

// Register adds a new validator with the specified self stake. The self
// stake must meet the minimum and the address must be unused.
func (r *Registry) Register(address database.AccountID, selfStake uint64, commission float64, moniker string, website string) error {
	if commission < 0 || commission > 1 {
		return ErrInvalidCommission
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.validators[address]; exists {
		return ErrAlreadyRegistered
	}

	if selfStake < r.params.MinSelfStake {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientSelfStake, selfStake, r.params.MinSelfStake)
	}

	r.validators[address] = &Validator{
		Address:    address,
		Moniker:    moniker,
		Website:    website,
		Commission: commission,
		SelfStake:  selfStake,
		Status:     StatusActive,
	}

	r.evHandler("staking: Register: validator[%s] self stake[%d]", address, selfStake)

	return nil
}

// Edit updates a validator's description and commission.
func (r *Registry) Edit(address database.AccountID, commission float64, moniker string, website string) error {
	if commission < 0 || commission > 1 {
		return ErrInvalidCommission
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	val, exists := r.validators[address]
	if !exists {
		return ErrValidatorNotFound
	}

	if moniker != "" {
		val.Moniker = moniker
	}
	if website != "" {
		val.Website = website
	}
	val.Commission = commission

	return nil
}

// Deactivate moves a validator out of the active set. Its stake and
// delegations remain in place.
func (r *Registry) Deactivate(address database.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	val, exists := r.validators[address]
	if !exists {
		return ErrValidatorNotFound
	}
	if val.Jailed {
		return ErrValidatorJailed
	}

	val.Status = StatusInactive
	return nil
}

// Reactivate returns an inactive validator to the active set, provided it
// still meets the minimum stake.
func (r *Registry) Reactivate(address database.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	val, exists := r.validators[address]
	if !exists {
		return ErrValidatorNotFound
	}
	if val.Jailed {
		return ErrValidatorJailed
	}
	if val.SelfStake < r.params.MinSelfStake {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientSelfStake, val.SelfStake, r.params.MinSelfStake)
	}

	val.Status = StatusActive
	return nil
}

// =============================================================================
// Delegation

// Delegate adds stake from a delegator to a validator. The chain has
// already moved the value into the staking pool.
func (r *Registry) Delegate(delegatorID database.AccountID, validatorID database.AccountID, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	val, exists := r.validators[validatorID]
	if !exists {
		return ErrValidatorNotFound
	}
	if val.Jailed {
		return ErrValidatorJailed
	}

	if r.delegations[delegatorID] == nil {
		r.delegations[delegatorID] = make(map[database.AccountID]uint64)
	}
	r.delegations[delegatorID][validatorID] += amount
	val.TotalDelegated += amount

	r.evHandler("staking: Delegate: delegator[%s] validator[%s] amount[%d]", delegatorID, validatorID, amount)

	return nil
}

// Undelegate removes stake from a validator and schedules its return to
// the delegator after the unbonding period. The ledger credit happens at
// settlement, not here.
func (r *Registry) Undelegate(delegatorID database.AccountID, validatorID database.AccountID, amount uint64, now time.Time) (UnbondingEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.removeDelegation(delegatorID, validatorID, amount, now)
	if err != nil {
		return UnbondingEntry{}, err
	}

	r.unbonding = append(r.unbonding, entry)

	r.evHandler("staking: Undelegate: delegator[%s] validator[%s] amount[%d] completes[%v]", delegatorID, validatorID, amount, entry.CompletionTime)

	return entry, nil
}

// Redelegate moves stake between two validators. The voting power moves
// immediately and a redelegation entry records the cooldown window.
func (r *Registry) Redelegate(delegatorID database.AccountID, fromID database.AccountID, toID database.AccountID, amount uint64, now time.Time) (RedelegationEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dst, exists := r.validators[toID]
	if !exists {
		return RedelegationEntry{}, ErrValidatorNotFound
	}
	if dst.Jailed {
		return RedelegationEntry{}, ErrValidatorJailed
	}

	if _, err := r.removeDelegation(delegatorID, fromID, amount, now); err != nil {
		return RedelegationEntry{}, err
	}

	if r.delegations[delegatorID] == nil {
		r.delegations[delegatorID] = make(map[database.AccountID]uint64)
	}
	r.delegations[delegatorID][toID] += amount
	dst.TotalDelegated += amount

	entry := RedelegationEntry{
		DelegatorID:    delegatorID,
		FromValidator:  fromID,
		ToValidator:    toID,
		Amount:         amount,
		CompletionTime: now.Add(time.Duration(r.params.UnbondingSeconds) * time.Second),
	}
	r.redelegations = append(r.redelegations, entry)

	return entry, nil
}

// removeDelegation reduces a delegation and the validator's totals.
// Callers hold the lock.
func (r *Registry) removeDelegation(delegatorID database.AccountID, validatorID database.AccountID, amount uint64, now time.Time) (UnbondingEntry, error) {
	val, exists := r.validators[validatorID]
	if !exists {
		return UnbondingEntry{}, ErrValidatorNotFound
	}

	current := r.delegations[delegatorID][validatorID]
	if current < amount {
		return UnbondingEntry{}, fmt.Errorf("%w: have %d, removing %d", ErrInsufficientDelegation, current, amount)
	}

	if current == amount {
		delete(r.delegations[delegatorID], validatorID)
	} else {
		r.delegations[delegatorID][validatorID] = current - amount
	}
	val.TotalDelegated -= amount

	return UnbondingEntry{
		DelegatorID:    delegatorID,
		ValidatorID:    validatorID,
		Amount:         amount,
		CompletionTime: now.Add(time.Duration(r.params.UnbondingSeconds) * time.Second),
	}, nil
}

// SettleUnbonding removes and returns every unbonding entry whose
// completion time has passed. The chain credits the delegators from the
// staking pool. Matured redelegation entries are dropped at the same time.
func (r *Registry) SettleUnbonding(now time.Time) []UnbondingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matured []UnbondingEntry
	var pending []UnbondingEntry
	for _, entry := range r.unbonding {
		if !entry.CompletionTime.After(now) {
			matured = append(matured, entry)
			continue
		}
		pending = append(pending, entry)
	}
	r.unbonding = pending

	var openRedelegations []RedelegationEntry
	for _, entry := range r.redelegations {
		if entry.CompletionTime.After(now) {
			openRedelegations = append(openRedelegations, entry)
		}
	}
	r.redelegations = openRedelegations

	return matured
}

// =============================================================================
// Slashing and jailing

// Jail marks a validator jailed, slashes the configured fraction of its
// stake pro rata across self stake and delegations, and records the
// slashing event. Jailing an already jailed validator is rejected.
// Returns the total amount slashed for the chain to move out of the
// staking pool.
func (r *Registry) Jail(validatorID database.AccountID, reason string, now time.Time) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.jail(validatorID, reason, now)
}

// jail implements Jail. Callers hold the lock.
func (r *Registry) jail(validatorID database.AccountID, reason string, now time.Time) (uint64, error) {
	val, exists := r.validators[validatorID]
	if !exists {
		return 0, ErrValidatorNotFound
	}
	if val.Jailed {
		return 0, ErrAlreadyJailed
	}

	slashSelf := uint64(float64(val.SelfStake) * r.params.SlashFraction)
	val.SelfStake -= slashSelf

	// Delegators share the penalty in proportion to their stake.
	var slashDelegated uint64
	for _, dels := range r.delegations {
		current, exists := dels[validatorID]
		if !exists {
			continue
		}

		cut := uint64(float64(current) * r.params.SlashFraction)
		dels[validatorID] = current - cut
		slashDelegated += cut
	}
	val.TotalDelegated -= slashDelegated

	total := slashSelf + slashDelegated
	val.Jailed = true
	val.Status = StatusJailed
	val.SlashEvents = append(val.SlashEvents, SlashEvent{
		TimeStamp: now,
		Reason:    reason,
		Amount:    total,
	})

	r.evHandler("staking: Jail: validator[%s] reason[%s] slashed[%d]", validatorID, reason, total)

	return total, nil
}

// Unjail returns a jailed validator to the active set once the cooldown
// since its last slashing event has passed.
func (r *Registry) Unjail(validatorID database.AccountID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	val, exists := r.validators[validatorID]
	if !exists {
		return ErrValidatorNotFound
	}
	if !val.Jailed {
		return ErrNotJailed
	}

	lastSlash := val.SlashEvents[len(val.SlashEvents)-1].TimeStamp
	cooldown := time.Duration(r.params.JailCooldownSecs) * time.Second
	if now.Before(lastSlash.Add(cooldown)) {
		return ErrJailPeriodNotElapsed
	}

	val.Jailed = false
	val.MissedBlocks = 0

	if val.SelfStake < r.params.MinSelfStake {
		val.Status = StatusInactive
	} else {
		val.Status = StatusActive
	}

	return nil
}

// OnMissedBlock increments the validator's missed block counter and auto
// jails it when the downtime threshold is crossed. Returns the slashed
// amount when a jailing occurred.
func (r *Registry) OnMissedBlock(validatorID database.AccountID, now time.Time) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	val, exists := r.validators[validatorID]
	if !exists {
		return 0, ErrValidatorNotFound
	}
	if val.Jailed {
		return 0, nil
	}

	val.MissedBlocks++
	if val.MissedBlocks < r.params.DowntimeThreshold {
		return 0, nil
	}

	return r.jail(validatorID, "downtime", now)
}

// MarkBlockProposed increments the proposer counter for the validator.
func (r *Registry) MarkBlockProposed(validatorID database.AccountID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if val, exists := r.validators[validatorID]; exists {
		val.BlocksProposed++
	}
}

// =============================================================================
// Rewards

// DistributeReward splits a reward between the validator, by its
// commission, and its delegators pro rata by delegated share. Rounding
// dust stays with the validator. The caller applies the amounts to the
// ledger; this registry only updates the cumulative reward counter.
func (r *Registry) DistributeReward(validatorID database.AccountID, totalReward uint64) (RewardShares, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	val, exists := r.validators[validatorID]
	if !exists {
		return RewardShares{}, ErrValidatorNotFound
	}

	shares := RewardShares{
		ValidatorID: validatorID,
		Delegators:  make(map[database.AccountID]uint64),
	}

	commission := uint64(float64(totalReward) * val.Commission)
	remainder := totalReward - commission

	var distributed uint64
	if val.TotalDelegated > 0 {
		for delegatorID, dels := range r.delegations {
			amount, exists := dels[validatorID]
			if !exists || amount == 0 {
				continue
			}

			cut := remainder * amount / val.TotalDelegated
			if cut > 0 {
				shares.Delegators[delegatorID] += cut
				distributed += cut
			}
		}
	}

	shares.Validator = totalReward - distributed

	val.Rewards += shares.Validator

	return shares, nil
}

// =============================================================================
// Queries

// Query returns a copy of the specified validator.
func (r *Registry) Query(validatorID database.AccountID) (Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	val, exists := r.validators[validatorID]
	if !exists {
		return Validator{}, ErrValidatorNotFound
	}

	return *val, nil
}

// Copy returns a copy of every registered validator, ordered by address
// for deterministic iteration.
func (r *Registry) Copy() []Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	validators := make([]Validator, 0, len(r.validators))
	for _, val := range r.validators {
		validators = append(validators, *val)
	}

	sort.Slice(validators, func(i, j int) bool {
		return validators[i].Address < validators[j].Address
	})

	return validators
}

// Delegation returns the amount the delegator currently has with the
// validator.
func (r *Registry) Delegation(delegatorID database.AccountID, validatorID database.AccountID) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.delegations[delegatorID][validatorID]
}

// VotingPower returns the stake weight behind the specified address:
// the validator's own power, or the sum of the address's delegations.
func (r *Registry) VotingPower(address database.AccountID) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if val, exists := r.validators[address]; exists {
		return val.VotingPower()
	}

	var power uint64
	for _, amount := range r.delegations[address] {
		power += amount
	}

	return power
}

// TotalStaked returns the total stake across all validators.
func (r *Registry) TotalStaked() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total uint64
	for _, val := range r.validators {
		total += val.VotingPower()
	}

	return total
}

// PendingUnbondings returns a copy of the in flight unbonding entries.
func (r *Registry) PendingUnbondings() []UnbondingEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]UnbondingEntry, len(r.unbonding))
	copy(entries, r.unbonding)

	return entries
}

// =============================================================================
// Parameters

// SetParam applies a governance parameter change to the registry.
func (r *Registry) SetParam(name string, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch name {
	case "min_self_stake":
		r.params.MinSelfStake = uint64(value)
	case "unbonding_seconds":
		r.params.UnbondingSeconds = uint64(value)
	case "slash_fraction":
		r.params.SlashFraction = value
	case "downtime_threshold":
		r.params.DowntimeThreshold = uint32(value)
	case "jail_cooldown_secs":
		r.params.JailCooldownSecs = uint64(value)
	default:
		return fmt.Errorf("unknown staking parameter %q", name)
	}

	return nil
}

// Params returns the current staking parameters.
func (r *Registry) Params() genesis.StakingParams {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.params
}

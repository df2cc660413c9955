// Package governance maintains on chain proposals: deposits, voting,
// tallying and execution. The manager owns the proposal state machine and
// delegates all value movement to the ledger and all power lookups to the
// staking registry through small capability interfaces.
package governance

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/genesis"
)

// Set of errors returned by governance operations.
var (
	ErrProposalNotFound   = errors.New("proposal not found")
	ErrInvalidProposal    = errors.New("proposal failed validation")
	ErrNotInDepositPeriod = errors.New("proposal is not accepting deposits")
	ErrNotInVotingPeriod  = errors.New("proposal is not accepting votes")
	ErrInvalidOption      = errors.New("unknown vote option")
	ErrUnknownParameter   = errors.New("unknown parameter")
)

// Kind classifies what a proposal does when it passes.
type Kind string

// Set of proposal kinds.
const (
	KindText            Kind = "text"
	KindParameterChange Kind = "parameter_change"
	KindSoftwareUpgrade Kind = "software_upgrade"
	KindSpendPool       Kind = "spend_pool"
)

// Status represents where a proposal is in its lifecycle.
type Status string

// Set of proposal statuses. Passed, rejected and failed are terminal.
const (
	StatusDepositPeriod Status = "deposit_period"
	StatusVotingPeriod  Status = "voting_period"
	StatusPassed        Status = "passed"
	StatusRejected      Status = "rejected"
	StatusFailed        Status = "failed"
)

// Option represents a single vote choice.
type Option string

// Set of vote options.
const (
	OptionYes     Option = "yes"
	OptionNo      Option = "no"
	OptionAbstain Option = "abstain"
	OptionVeto    Option = "no_with_veto"
)

// ParseOption validates and converts a raw vote option string.
func ParseOption(raw string) (Option, error) {
	switch Option(raw) {
	case OptionYes, OptionNo, OptionAbstain, OptionVeto:
		return Option(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOption, raw)
}

// =============================================================================

// PowerSource provides the stake weights used to tally votes. Powers are
// read at tally time, so late stake changes count.
type PowerSource interface {
	VotingPower(address database.AccountID) uint64
	TotalStaked() uint64
}

// Ledger provides the value movement governance needs: deposits live in
// the governance pool and move out on refund or burn.
type Ledger interface {
	Move(fromID database.AccountID, toID database.AccountID, amount uint64) error
	Burn(fromID database.AccountID, amount uint64) error
	Balance(accountID database.AccountID) uint64
}

// ParamStore applies parameter change proposals to the running modules.
type ParamStore interface {
	SetParam(module string, name string, value float64) error
}

// =============================================================================

// Tally is the breakdown of voting power by option at the close of a
// proposal's voting period.
type Tally struct {
	Yes        uint64 `json:"yes"`
	No         uint64 `json:"no"`
	Abstain    uint64 `json:"abstain"`
	Veto       uint64 `json:"no_with_veto"`
	TotalPower uint64 `json:"total_power"`
}

// Tallied returns the total voting power that participated.
func (t Tally) Tallied() uint64 {
	return t.Yes + t.No + t.Abstain + t.Veto
}

// Proposal represents one governance proposal and its full lifecycle
// state. The governance parameters in effect at submission are captured
// on the proposal so later parameter changes never move its goalposts.
type Proposal struct {
	ID          uint64                        `json:"id"`
	Kind        Kind                          `json:"kind"`
	Status      Status                        `json:"status"`
	Proposer    database.AccountID            `json:"proposer"`
	Title       string                        `json:"title"`
	Description string                        `json:"description"`
	Content     database.ProposalPayload      `json:"content"`
	Params      genesis.GovernanceParams      `json:"params"`
	SubmitTime  time.Time                     `json:"submit_time"`
	DepositEnd  time.Time                     `json:"deposit_end"`
	VotingStart time.Time                     `json:"voting_start,omitempty"`
	VotingEnd   time.Time                     `json:"voting_end,omitempty"`
	Deposits    map[database.AccountID]uint64 `json:"deposits"`
	Votes       map[database.AccountID]Option `json:"votes"`
	FinalTally  *Tally                        `json:"final_tally,omitempty"`
	Executed    bool                          `json:"executed"`
}

// TotalDeposit returns the sum of all deposits on the proposal.
func (p Proposal) TotalDeposit() uint64 {
	var total uint64
	for _, amount := range p.Deposits {
		total += amount
	}
	return total
}

// =============================================================================

// Manager owns the set of proposals and drives their state machine.
type Manager struct {
	mu sync.Mutex

	proposals map[uint64]*Proposal
	nextID    uint64
	params    genesis.GovernanceParams

	power  PowerSource
	ledger Ledger
	store  ParamStore

	evHandler func(v string, args ...any)
}

// New constructs a governance manager with the specified parameters and
// capabilities.
func New(params genesis.GovernanceParams, power PowerSource, ledger Ledger, store ParamStore, evHandler func(v string, args ...any)) *Manager {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	return &Manager{
		proposals: make(map[uint64]*Proposal),
		nextID:    1,
		params:    params,
		power:     power,
		ledger:    ledger,
		store:     store,
		evHandler: ev,
	}
}

// =============================================================================
// Lifecycle

// SubmitProposal creates a new proposal in the deposit period. The
// initial deposit has already been moved into the governance pool by the
// chain; it is recorded against the proposer here. A proposal whose
// initial deposit meets the minimum enters the voting period immediately.
func (m *Manager) SubmitProposal(proposer database.AccountID, content database.ProposalPayload, initialDeposit uint64, now time.Time) (Proposal, error) {
	if err := m.validateContent(content); err != nil {
		return Proposal{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p := Proposal{
		ID:          m.nextID,
		Kind:        Kind(content.Kind),
		Status:      StatusDepositPeriod,
		Proposer:    proposer,
		Title:       content.Title,
		Description: content.Description,
		Content:     content,
		Params:      m.params,
		SubmitTime:  now,
		DepositEnd:  now.Add(time.Duration(m.params.DepositPeriodSecs) * time.Second),
		Deposits:    make(map[database.AccountID]uint64),
		Votes:       make(map[database.AccountID]Option),
	}
	m.nextID++

	if initialDeposit > 0 {
		p.Deposits[proposer] = initialDeposit
	}

	if p.TotalDeposit() >= p.Params.MinDeposit {
		m.startVoting(&p, now)
	}

	m.proposals[p.ID] = &p

	m.evHandler("governance: SubmitProposal: id[%d] kind[%s] status[%s]", p.ID, p.Kind, p.Status)

	return p, nil
}

// validateContent checks the proposal content against the submission
// rules for its kind.
func (m *Manager) validateContent(content database.ProposalPayload) error {
	switch Kind(content.Kind) {
	case KindText, KindParameterChange, KindSoftwareUpgrade, KindSpendPool:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidProposal, content.Kind)
	}

	if content.Title == "" || len(content.Title) > m.params.MaxTitleLength {
		return fmt.Errorf("%w: title must be 1 to %d characters", ErrInvalidProposal, m.params.MaxTitleLength)
	}
	if content.Description == "" || len(content.Description) > m.params.MaxDescriptionLen {
		return fmt.Errorf("%w: description must be 1 to %d characters", ErrInvalidProposal, m.params.MaxDescriptionLen)
	}

	switch Kind(content.Kind) {
	case KindParameterChange:
		if content.ParamModule == "" || content.ParamName == "" {
			return fmt.Errorf("%w: parameter change requires a module and name", ErrInvalidProposal)
		}
	case KindSpendPool:
		if content.Recipient == "" || !content.Recipient.IsAccountID() {
			return fmt.Errorf("%w: pool spend requires a valid recipient", ErrInvalidProposal)
		}
		if content.Amount == 0 {
			return fmt.Errorf("%w: pool spend requires a positive amount", ErrInvalidProposal)
		}
	case KindSoftwareUpgrade:
		if content.UpgradeName == "" {
			return fmt.Errorf("%w: upgrade requires a name", ErrInvalidProposal)
		}
	}

	return nil
}

// AddDeposit records an additional deposit against a proposal still in
// its deposit period. The value has already moved into the governance
// pool. Crossing the minimum starts the voting period.
func (m *Manager) AddDeposit(proposalID uint64, depositor database.AccountID, amount uint64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.proposals[proposalID]
	if !exists {
		return ErrProposalNotFound
	}

	if p.Status != StatusDepositPeriod {
		return fmt.Errorf("%w: status %s", ErrNotInDepositPeriod, p.Status)
	}

	p.Deposits[depositor] += amount

	if p.TotalDeposit() >= p.Params.MinDeposit {
		m.startVoting(p, now)
		m.evHandler("governance: AddDeposit: id[%d] entered voting period", p.ID)
	}

	return nil
}

// startVoting transitions a proposal into its voting period. Callers hold
// the lock.
func (m *Manager) startVoting(p *Proposal, now time.Time) {
	p.Status = StatusVotingPeriod
	p.VotingStart = now
	p.VotingEnd = now.Add(time.Duration(p.Params.VotingPeriodSecs) * time.Second)
}

// Vote records a vote on a proposal in its voting period. A voter can
// change their mind: the latest vote wins. Voting power is read at tally
// time, not here.
func (m *Manager) Vote(proposalID uint64, voter database.AccountID, option Option, now time.Time) error {
	if _, err := ParseOption(string(option)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.proposals[proposalID]
	if !exists {
		return ErrProposalNotFound
	}

	if p.Status != StatusVotingPeriod {
		return fmt.Errorf("%w: status %s", ErrNotInVotingPeriod, p.Status)
	}

	// A vote arriving after the window closes the proposal right here
	// rather than waiting for the next sweep.
	if now.After(p.VotingEnd) {
		m.endVoting(p)
		return fmt.Errorf("%w: voting ended %v", ErrNotInVotingPeriod, p.VotingEnd)
	}

	p.Votes[voter] = option

	return nil
}

// =============================================================================
// Tallying

// UpdateExpiredProposals advances every proposal whose current period has
// elapsed: deposit periods that never met the minimum fail and refund,
// voting periods tally and settle deposits. Passed proposals execute.
// Returns the ids of proposals that reached a terminal status.
func (m *Manager) UpdateExpiredProposals(now time.Time) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var settled []uint64

	ids := make([]uint64, 0, len(m.proposals))
	for id := range m.proposals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		p := m.proposals[id]

		switch p.Status {
		case StatusDepositPeriod:
			if now.After(p.DepositEnd) {
				p.Status = StatusFailed
				m.refundDeposits(p)
				settled = append(settled, p.ID)
				m.evHandler("governance: UpdateExpiredProposals: id[%d] FAILED: deposit period expired", p.ID)
			}

		case StatusVotingPeriod:
			if now.After(p.VotingEnd) {
				m.endVoting(p)
				settled = append(settled, p.ID)
			}
		}
	}

	return settled
}

// endVoting tallies a proposal, settles the deposits and executes it when
// it passed. Callers hold the lock.
func (m *Manager) endVoting(p *Proposal) {
	tally := m.tally(p)
	p.FinalTally = &tally

	verdict := m.verdict(p, tally)
	p.Status = verdict

	switch verdict {
	case StatusPassed:
		m.refundDeposits(p)
		if err := m.execute(p); err != nil {
			m.evHandler("governance: endVoting: id[%d] EXECUTE ERROR: %s", p.ID, err)
		}

	case StatusFailed:
		m.refundDeposits(p)

	case StatusRejected:
		// Deposits burn only for a vetoed rejection, and only when the
		// chain is configured to burn them.
		vetoed := tally.Tallied() > 0 && float64(tally.Veto)/float64(tally.Tallied()) >= p.Params.VetoThreshold
		if vetoed && p.Params.BurnVetoDeposits {
			m.burnDeposits(p)
		} else {
			m.refundDeposits(p)
		}
	}

	m.evHandler("governance: endVoting: id[%d] %s: yes[%d] no[%d] abstain[%d] veto[%d]", p.ID, p.Status, tally.Yes, tally.No, tally.Abstain, tally.Veto)
}

// tally reads the voting power behind every recorded vote. Callers hold
// the lock.
func (m *Manager) tally(p *Proposal) Tally {
	t := Tally{TotalPower: m.power.TotalStaked()}

	for voter, option := range p.Votes {
		power := m.power.VotingPower(voter)
		if power == 0 {
			continue
		}

		switch option {
		case OptionYes:
			t.Yes += power
		case OptionNo:
			t.No += power
		case OptionAbstain:
			t.Abstain += power
		case OptionVeto:
			t.Veto += power
		}
	}

	return t
}

// verdict applies the decision rules to a tally. Turnout under the
// quorum fails the proposal. The veto ratio measures against the power
// that voted, abstain included. The pass ratio excludes abstain. Both
// thresholds are inclusive: hitting one exactly triggers it.
func (m *Manager) verdict(p *Proposal, t Tally) Status {
	tallied := t.Tallied()

	if t.TotalPower == 0 || float64(tallied)/float64(t.TotalPower) < p.Params.Quorum {
		return StatusFailed
	}

	if float64(t.Veto)/float64(tallied) >= p.Params.VetoThreshold {
		return StatusRejected
	}

	decisive := t.Yes + t.No + t.Veto
	if decisive == 0 {
		return StatusRejected
	}
	if float64(t.Yes)/float64(decisive) >= p.Params.PassThreshold {
		return StatusPassed
	}

	return StatusRejected
}

// =============================================================================
// Deposits and execution

// refundDeposits returns every deposit from the governance pool to its
// depositor. Callers hold the lock.
func (m *Manager) refundDeposits(p *Proposal) {
	for depositor, amount := range p.Deposits {
		if amount == 0 {
			continue
		}
		if err := m.ledger.Move(database.GovDepositAccount, depositor, amount); err != nil {
			m.evHandler("governance: refundDeposits: id[%d] depositor[%s]: ERROR: %s", p.ID, depositor, err)
		}
	}
}

// burnDeposits removes every deposit from circulation. Callers hold the
// lock.
func (m *Manager) burnDeposits(p *Proposal) {
	for depositor, amount := range p.Deposits {
		if amount == 0 {
			continue
		}
		if err := m.ledger.Burn(database.GovDepositAccount, amount); err != nil {
			m.evHandler("governance: burnDeposits: id[%d] depositor[%s]: ERROR: %s", p.ID, depositor, err)
		}
	}
}

// ExecuteProposal applies the effect of a passed proposal. Execution is
// idempotent: a proposal executes at most once.
func (m *Manager) ExecuteProposal(proposalID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.proposals[proposalID]
	if !exists {
		return ErrProposalNotFound
	}

	if p.Status != StatusPassed {
		return fmt.Errorf("%w: cannot execute a %s proposal", ErrInvalidProposal, p.Status)
	}

	return m.execute(p)
}

// execute implements ExecuteProposal. Callers hold the lock.
func (m *Manager) execute(p *Proposal) error {
	if p.Executed {
		return nil
	}

	switch p.Kind {
	case KindText, KindSoftwareUpgrade:
		// Nothing to apply. A text proposal is a signal; an upgrade
		// proposal is a coordination record for the operators.

	case KindParameterChange:
		if err := m.store.SetParam(p.Content.ParamModule, p.Content.ParamName, p.Content.ParamValue); err != nil {
			return err
		}

	case KindSpendPool:
		// The community pool must actually hold the funds. A short pool
		// leaves the proposal passed but unexecuted.
		if err := m.ledger.Move(database.CommunityPoolAccount, p.Content.Recipient, p.Content.Amount); err != nil {
			return fmt.Errorf("community pool spend: %w", err)
		}
	}

	p.Executed = true

	m.evHandler("governance: execute: id[%d] kind[%s] applied", p.ID, p.Kind)

	return nil
}

// =============================================================================
// Queries

// Query returns a copy of the specified proposal.
func (m *Manager) Query(proposalID uint64) (Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.proposals[proposalID]
	if !exists {
		return Proposal{}, ErrProposalNotFound
	}

	return copyProposal(p), nil
}

// Copy returns a copy of every proposal ordered by id.
func (m *Manager) Copy() []Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()

	proposals := make([]Proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		proposals = append(proposals, copyProposal(p))
	}

	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].ID < proposals[j].ID
	})

	return proposals
}

// copyProposal deep copies a proposal so callers cannot reach the live
// maps.
func copyProposal(p *Proposal) Proposal {
	cp := *p

	cp.Deposits = make(map[database.AccountID]uint64, len(p.Deposits))
	for k, v := range p.Deposits {
		cp.Deposits[k] = v
	}

	cp.Votes = make(map[database.AccountID]Option, len(p.Votes))
	for k, v := range p.Votes {
		cp.Votes[k] = v
	}

	if p.FinalTally != nil {
		tally := *p.FinalTally
		cp.FinalTally = &tally
	}

	return cp
}

// =============================================================================
// Parameters

// SetParam applies a governance parameter change to the manager itself.
// Already submitted proposals keep the parameters they were created with.
func (m *Manager) SetParam(name string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "min_deposit":
		m.params.MinDeposit = uint64(value)
	case "deposit_period_secs":
		m.params.DepositPeriodSecs = uint64(value)
	case "voting_period_secs":
		m.params.VotingPeriodSecs = uint64(value)
	case "quorum":
		m.params.Quorum = value
	case "pass_threshold":
		m.params.PassThreshold = value
	case "veto_threshold":
		m.params.VetoThreshold = value
	case "burn_veto_deposits":
		m.params.BurnVetoDeposits = value != 0
	default:
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}

	return nil
}

// Params returns the current governance parameters.
func (m *Manager) Params() genesis.GovernanceParams {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.params
}

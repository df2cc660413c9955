// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stakechain/stakechain/business/web/errs"
	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/state"
	"github.com/stakechain/stakechain/foundation/events"
	"github.com/stakechain/stakechain/foundation/nameservice"
	"github.com/stakechain/stakechain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds a new user transaction to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var signedTx database.SignedTx
	if err := web.Decode(r, &signedTx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("add user tran", "traceid", v.TraceID, "tx", signedTx, "type", signedTx.Type, "to", signedTx.ToID, "value", signedTx.Value, "fee", signedTx.Fee)
	if err := h.State.SubmitTransaction(signedTx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transaction added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.Genesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	mempool := h.State.Mempool()

	trans := make([]tx, 0, len(mempool))
	for _, tran := range mempool {
		trans = append(trans, toTx(tran, h.NS))
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Accounts returns the current balances for all accounts or one account.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	account := web.Param(r, "account")

	var accounts map[database.AccountID]database.Account
	switch account {
	case "":
		accounts = h.State.Accounts()

	default:
		accountID, err := database.ToAccountID(account)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		act, err := h.State.QueryAccount(accountID)
		if err != nil {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		accounts = map[database.AccountID]database.Account{accountID: act}
	}

	acts := make([]info, 0, len(accounts))
	for accountID, act := range accounts {
		acts = append(acts, info{
			Account: accountID,
			Name:    h.NS.Lookup(accountID),
			Balance: act.Balance,
			Nonce:   act.Nonce,
		})
	}

	ai := actInfo{
		LatestBlock: h.State.LatestBlock().Hash(),
		Uncommitted: h.State.MempoolLen(),
		TotalSupply: h.State.TotalSupply(),
		Accounts:    acts,
	}

	return web.Respond(ctx, w, ai, http.StatusOK)
}

// BlocksByNumber returns the blocks in the specified range.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	fromStr := web.Param(r, "from")
	toStr := web.Param(r, "to")

	latest := uint64(h.State.Height()) - 1

	from, err := parseBlockNumber(fromStr, latest)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	to, err := parseBlockNumber(toStr, latest)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if from > to {
		return errs.NewTrusted(errors.New("from block is after to block"), http.StatusBadRequest)
	}

	blocks := make([]block, 0, to-from+1)
	for i := from; i <= to; i++ {
		blk, err := h.State.GetBlock(i)
		if err != nil {
			break
		}
		blocks = append(blocks, toBlock(blk, h.NS))
	}

	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// Validators returns the full validator registry.
func (h Handlers) Validators(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Validators(), http.StatusOK)
}

// ValidatorByAccount returns one validator.
func (h Handlers) ValidatorByAccount(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	validatorID, err := database.ToAccountID(web.Param(r, "validator"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	val, err := h.State.QueryValidator(validatorID)
	if err != nil {
		return errs.NewTrusted(err, http.StatusNotFound)
	}

	return web.Respond(ctx, w, val, http.StatusOK)
}

// Proposals returns every governance proposal.
func (h Handlers) Proposals(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Proposals(), http.StatusOK)
}

// ProposalByID returns one governance proposal.
func (h Handlers) ProposalByID(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	proposalID, err := strconv.ParseUint(web.Param(r, "proposal"), 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	p, err := h.State.QueryProposal(proposalID)
	if err != nil {
		return errs.NewTrusted(err, http.StatusNotFound)
	}

	return web.Respond(ctx, w, p, http.StatusOK)
}

// Stats returns the chain and mining statistics.
func (h Handlers) Stats(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	mining := h.State.MiningStats()
	chain := h.State.Stats()

	stats := chainStats{
		Height:         h.State.Height(),
		Difficulty:     h.State.Difficulty(),
		TotalSupply:    h.State.TotalSupply(),
		MempoolLen:     h.State.MempoolLen(),
		Mining:         h.State.IsMining(),
		BlocksMined:    chain.BlocksMined,
		StaleBlocks:    chain.StaleBlocks,
		TransConfirmed: chain.TransConfirmed,
		HashesComputed: mining.HashesComputed,
		HashRate:       mining.HashRate(),
	}

	return web.Respond(ctx, w, stats, http.StatusOK)
}

// =============================================================================

// parseBlockNumber converts a block number parameter, accepting the word
// latest for the chain head.
func parseBlockNumber(value string, latest uint64) (uint64, error) {
	if value == "latest" || value == "" {
		return latest, nil
	}
	return strconv.ParseUint(value, 10, 64)
}

// toTx converts a transaction into its response form.
func toTx(tran database.SignedTx, ns *nameservice.NameService) tx {
	return tx{
		FromAccount: tran.FromID,
		FromName:    ns.Lookup(tran.FromID),
		To:          tran.ToID,
		ToName:      ns.Lookup(tran.ToID),
		Type:        tran.Type,
		Nonce:       tran.Nonce,
		Value:       tran.Value,
		Fee:         tran.Fee,
		Data:        tran.Data,
		TimeStamp:   tran.TimeStamp,
		Sig:         tran.SignatureString(),
	}
}

// toBlock converts a block into its response form.
func toBlock(blk database.Block, ns *nameservice.NameService) block {
	trans := make([]tx, 0, len(blk.Trans))
	for _, tran := range blk.Trans {
		trans = append(trans, toTx(tran, ns))
	}

	return block{
		Hash:          blk.Hash(),
		PrevBlockHash: blk.Header.PrevBlockHash,
		Beneficiary:   blk.Header.BeneficiaryID,
		Difficulty:    blk.Header.Difficulty,
		Number:        blk.Header.Number,
		TransRoot:     blk.Header.TransRoot,
		TimeStamp:     blk.Header.TimeStamp,
		Nonce:         blk.Header.Nonce,
		Transactions:  trans,
	}
}

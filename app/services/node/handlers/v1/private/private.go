// Package private maintains the group of handlers for node to operator
// access.
package private

import (
	"context"
	"net/http"
	"time"

	"github.com/stakechain/stakechain/business/web/errs"
	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/state"
	"github.com/stakechain/stakechain/foundation/nameservice"
	"github.com/stakechain/stakechain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of private endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latest := h.State.LatestBlock()

	status := struct {
		Hash       string `json:"hash"`
		Number     uint64 `json:"number"`
		Height     int    `json:"height"`
		Difficulty uint   `json:"difficulty"`
		Mining     bool   `json:"mining"`
		MempoolLen int    `json:"mempool_len"`
	}{
		Hash:       latest.Hash(),
		Number:     latest.Header.Number,
		Height:     h.State.Height(),
		Difficulty: h.State.Difficulty(),
		Mining:     h.State.IsMining(),
		MempoolLen: h.State.MempoolLen(),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// SignalMining signals the worker to start a mining operation.
func (h Handlers) SignalMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, err := h.State.MineBlock(ctx)
	if err != nil {
		return errs.NewTrusted(err, http.StatusConflict)
	}

	resp := struct {
		Status string `json:"status"`
		Hash   string `json:"hash"`
		Number uint64 `json:"number"`
	}{
		Status: "block mined",
		Hash:   block.Hash(),
		Number: block.Header.Number,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// CancelMining asks the worker to cancel the in flight mining operation.
func (h Handlers) CancelMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := struct {
		Status string `json:"status"`
	}{
		Status: "cancel signaled",
	}

	h.State.Worker().SignalCancelMining()

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// ValidateChain runs the full chain audit.
func (h Handlers) ValidateChain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.State.ValidateChain(); err != nil {
		return errs.NewTrusted(err, http.StatusConflict)
	}

	resp := struct {
		Status string `json:"status"`
		Blocks int    `json:"blocks"`
	}{
		Status: "chain validated",
		Blocks: h.State.Height(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// JailValidator jails and slashes the specified validator.
func (h Handlers) JailValidator(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	validatorID, err := database.ToAccountID(web.Param(r, "validator"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	slashed, err := h.State.JailValidator(validatorID, "operator", time.Now().UTC())
	if err != nil {
		return errs.NewTrusted(err, http.StatusConflict)
	}

	resp := struct {
		Status  string `json:"status"`
		Slashed uint64 `json:"slashed"`
	}{
		Status:  "validator jailed",
		Slashed: slashed,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// UnjailValidator returns the specified validator to the active set.
func (h Handlers) UnjailValidator(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	validatorID, err := database.ToAccountID(web.Param(r, "validator"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := h.State.UnjailValidator(validatorID, time.Now().UTC()); err != nil {
		return errs.NewTrusted(err, http.StatusConflict)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "validator unjailed",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// WriteSnapshot exports the full chain state to disk.
func (h Handlers) WriteSnapshot(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Path string `json:"path" validate:"required"`
	}
	if err := web.Decode(r, &req); err != nil {
		return err
	}

	if err := h.State.WriteSnapshot(req.Path); err != nil {
		return errs.NewTrusted(err, http.StatusInternalServerError)
	}

	resp := struct {
		Status string `json:"status"`
		Path   string `json:"path"`
	}{
		Status: "snapshot written",
		Path:   req.Path,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/stakechain/stakechain/app/services/node/handlers/v1/private"
	"github.com/stakechain/stakechain/app/services/node/handlers/v1/public"
	"github.com/stakechain/stakechain/foundation/blockchain/state"
	"github.com/stakechain/stakechain/foundation/events"
	"github.com/stakechain/stakechain/foundation/nameservice"
	"github.com/stakechain/stakechain/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		NS:    cfg.NS,
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis/list", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/accounts/list", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/accounts/list/:account", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/blocks/list/:from/:to", pbl.BlocksByNumber)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/list", pbl.Mempool)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitWalletTransaction)
	app.Handle(http.MethodGet, version, "/validators/list", pbl.Validators)
	app.Handle(http.MethodGet, version, "/validators/list/:validator", pbl.ValidatorByAccount)
	app.Handle(http.MethodGet, version, "/proposals/list", pbl.Proposals)
	app.Handle(http.MethodGet, version, "/proposals/list/:proposal", pbl.ProposalByID)
	app.Handle(http.MethodGet, version, "/stats", pbl.Stats)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		NS:    cfg.NS,
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/mining/signal", prv.SignalMining)
	app.Handle(http.MethodGet, version, "/node/mining/cancel", prv.CancelMining)
	app.Handle(http.MethodGet, version, "/node/chain/validate", prv.ValidateChain)
	app.Handle(http.MethodPost, version, "/node/validators/jail/:validator", prv.JailValidator)
	app.Handle(http.MethodPost, version, "/node/validators/unjail/:validator", prv.UnjailValidator)
	app.Handle(http.MethodPost, version, "/node/snapshot/write", prv.WriteSnapshot)
}

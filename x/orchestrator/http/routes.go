package http

// Route patterns for the orchestrator HTTP surface.
const (
	routeStartEpoch           = "/v1/epochs"
	routeStartBlock           = "/v1/epochs/current/blocks"
	routeAddTxs               = "/v1/epochs/current/txs"
	routeCompleteCurrentBlock = "/v1/epochs/current/blocks/current/complete"
	routeCompleteBlock        = "/v1/epochs/current/blocks/{index:[0-9]+}/complete"
	routeFinaliseEpoch        = "/v1/epochs/current/finalise"
	routeStatus               = "/v1/epochs/current/status"
)

// Route names for mux URL building.
const (
	routeNameStartEpoch           = "orchestrator_start_epoch"
	routeNameStartBlock           = "orchestrator_start_block"
	routeNameAddTxs               = "orchestrator_add_txs"
	routeNameCompleteCurrentBlock = "orchestrator_complete_current_block"
	routeNameCompleteBlock        = "orchestrator_complete_block"
	routeNameFinaliseEpoch        = "orchestrator_finalise_epoch"
	routeNameStatus               = "orchestrator_status"
)

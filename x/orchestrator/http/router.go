package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterMux binds gorilla/mux routes.
func (h *Handler) RegisterMux(r *mux.Router) {
	r.HandleFunc(routeStartEpoch, h.handleStartEpoch).Methods(http.MethodPost).Name(routeNameStartEpoch)
	r.HandleFunc(routeStartBlock, h.handleStartBlock).Methods(http.MethodPost).Name(routeNameStartBlock)
	r.HandleFunc(routeAddTxs, h.handleAddTxs).Methods(http.MethodPost).Name(routeNameAddTxs)
	// "current" must be matched before the indexed route.
	r.HandleFunc(routeCompleteCurrentBlock, h.handleCompleteBlock).
		Methods(http.MethodPost).
		Name(routeNameCompleteCurrentBlock)
	r.HandleFunc(routeCompleteBlock, h.handleCompleteBlock).
		Methods(http.MethodPost).
		Name(routeNameCompleteBlock)
	r.HandleFunc(routeFinaliseEpoch, h.handleFinaliseEpoch).Methods(http.MethodPost).Name(routeNameFinaliseEpoch)
	r.HandleFunc(routeStatus, h.handleStatus).Methods(http.MethodGet).Name(routeNameStatus)
}

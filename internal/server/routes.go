package server

import "net/http"

func NewMux(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/models", h.handleModels)
	mux.HandleFunc("POST /v1/picks/smart", h.handleSmartPick)
	mux.HandleFunc("POST /v1/picks/surprise", h.handleSurprise)

	mux.HandleFunc("POST /v1/battles", h.handleCreateBattle)
	mux.HandleFunc("GET /v1/battles", h.handleListBattles)
	mux.HandleFunc("GET /v1/battles/{id}", h.handleGetBattle)
	mux.HandleFunc("PATCH /v1/battles/{id}", h.handlePatchBattle)
	mux.HandleFunc("DELETE /v1/battles/{id}", h.handleDeleteBattle)
	mux.HandleFunc("POST /v1/battles/{id}/stop", h.handleStopBattle)
	mux.HandleFunc("POST /v1/battles/{id}/archive", h.handleArchiveBattle)
	mux.HandleFunc("GET /v1/battles/{id}/transcript", h.handleTranscript)
	mux.HandleFunc("GET /v1/battles/{id}/stream", h.handleBattleWS)

	mux.HandleFunc("GET /v1/rankings", h.handleRankings)

	return cors(mux)
}

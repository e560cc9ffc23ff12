package server

import (
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"arena/internal/archive"
	"arena/internal/arena"
	"arena/internal/battle"
	"arena/internal/pick"
	"arena/internal/ranking"
	"arena/internal/store"
)

type Handler struct {
	orch     *battle.Orchestrator
	catalog  *pick.Catalog
	rankings *ranking.Aggregator
	battles  store.Store
	archiver *archive.Archiver

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewHandler(orch *battle.Orchestrator, catalog *pick.Catalog, rankings *ranking.Aggregator, battles store.Store, archiver *archive.Archiver) *Handler {
	return &Handler{
		orch:     orch,
		catalog:  catalog,
		rankings: rankings,
		battles:  battles,
		archiver: archiver,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP codes: invariant violations are the
// only errors that surface as client-facing validation failures.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, arena.ErrPromptRequired),
		errors.Is(err, arena.ErrModelCount),
		errors.Is(err, arena.ErrDuplicateModel),
		errors.Is(err, arena.ErrUnknownVote),
		errors.Is(err, arena.ErrAlreadyVoted),
		errors.Is(err, arena.ErrBattleNotActive),
		errors.Is(err, pick.ErrNotEnoughModels):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.catalog.Models()})
}

func (h *Handler) handleSmartPick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Category) == "" {
		req.Category = arena.CategoryGeneral
	}
	ids, err := h.catalog.SmartPick(req.Category)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modelIds": ids})
}

func (h *Handler) handleSurprise(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.rngMu.Lock()
	ids, err := h.catalog.SurpriseMe(req.Count, h.rng)
	h.rngMu.Unlock()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modelIds": ids})
}

type createBattleRequest struct {
	Prompt   string         `json:"prompt"`
	ModelIDs []string       `json:"modelIds"`
	Settings arena.Settings `json:"settings"`
}

func (h *Handler) handleCreateBattle(w http.ResponseWriter, r *http.Request) {
	var req createBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	models, err := h.catalog.ByID(req.ModelIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := h.orch.Start(r.Context(), req.Prompt, models, req.Settings)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, projectBattle(b))
}

func (h *Handler) handleListBattles(w http.ResponseWriter, r *http.Request) {
	battles, err := h.battles.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	views := make([]BattleView, 0, len(battles))
	for _, b := range battles {
		views = append(views, projectBattle(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"battles": views})
}

func (h *Handler) handleGetBattle(w http.ResponseWriter, r *http.Request) {
	b, err := h.orch.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, projectBattle(b))
}

type patchBattleRequest struct {
	UserVote *string `json:"userVote"`
	Pinned   *bool   `json:"pinned"`
	Title    *string `json:"title"`
}

// handlePatchBattle is the partial-update path used for vote, pin and
// rename.
func (h *Handler) handlePatchBattle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req patchBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var (
		b   *arena.Battle
		err error
	)
	if req.UserVote != nil {
		current, getErr := h.orch.Get(r.Context(), id)
		if getErr != nil {
			writeError(w, statusFor(getErr), getErr)
			return
		}
		b, err = h.orch.Vote(r.Context(), id, resolveVoteTarget(current, *req.UserVote))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	if req.Pinned != nil || req.Title != nil {
		b, err = h.orch.Update(r.Context(), id, func(b *arena.Battle) {
			if req.Pinned != nil {
				b.Pinned = *req.Pinned
			}
			if req.Title != nil {
				b.Title = strings.TrimSpace(*req.Title)
			}
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	if b == nil {
		b, err = h.orch.Get(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	writeJSON(w, http.StatusOK, projectBattle(b))
}

func (h *Handler) handleDeleteBattle(w http.ResponseWriter, r *http.Request) {
	if err := h.battles.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStopBattle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.orch.Stop(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (h *Handler) handleArchiveBattle(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusNotImplemented, errors.New("archive storage is not configured"))
		return
	}
	b, err := h.orch.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	key, err := h.archiver.Archive(r.Context(), b)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusNotImplemented, errors.New("archive storage is not configured"))
		return
	}
	format := strings.TrimSpace(r.URL.Query().Get("format"))
	doc, contentType, err := h.archiver.Transcript(r.Context(), r.PathValue("id"), format)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, archive.ErrUnknownFormat) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(doc)
}

func (h *Handler) handleRankings(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	entries, err := h.rankings.Query(r.Context(), category)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rankings": entries})
}

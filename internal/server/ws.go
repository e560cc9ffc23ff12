package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"arena/internal/arena"
)

const (
	battleWSWriteWait = 10 * time.Second
	battleWSPongWait  = 60 * time.Second
	battleWSPingEvery = (battleWSPongWait * 9) / 10
)

var battleWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type battleWSOutbound struct {
	Type   string       `json:"type"`
	Battle *BattleView  `json:"battle,omitempty"`
	Event  *arena.Event `json:"event,omitempty"`
}

// handleBattleWS streams a battle's event log to one client: a state
// snapshot first, then every event as it lands. Blind battles are masked the
// same way the REST projection masks them.
func (h *Handler) handleBattleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snapshot, events, unsubscribe, err := h.orch.Subscribe(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer unsubscribe()

	conn, err := battleWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(battleWSPongWait)); err != nil {
		log.Printf("battle ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(battleWSPongWait))
	})

	// Reader goroutine only services pong frames and detects close.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(out battleWSOutbound) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(battleWSWriteWait)); err != nil {
			return false
		}
		return conn.WriteJSON(out) == nil
	}

	view := projectBattle(snapshot)
	if !write(battleWSOutbound{Type: "snapshot", Battle: &view}) {
		return
	}
	blind := snapshot.Settings.BlindMode && snapshot.UserVote == ""
	if events == nil {
		// No live session; the snapshot is the whole story.
		return
	}

	ticker := time.NewTicker(battleWSPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-readerDone:
			return
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(battleWSWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if blind && ev.Type == arena.EventVoteCast {
				// The vote reveals the battle; resend an unmasked snapshot
				// so the client can swap aliases for real model ids.
				blind = false
				if b, err := h.orch.Get(r.Context(), id); err == nil {
					v := projectBattle(b)
					if !write(battleWSOutbound{Type: "snapshot", Battle: &v}) {
						return
					}
				}
			}
			out := ev
			if blind {
				out = maskEvent(snapshot, ev)
			}
			if !write(battleWSOutbound{Type: "event", Event: &out}) {
				return
			}
			if ev.Type == arena.EventJudgmentReceived {
				return
			}
		}
	}
}

// maskEvent rewrites model identifiers for an unrevealed blind battle. The
// caller decides whether the battle is still blind; b only supplies the
// model ordering for aliases.
func maskEvent(b *arena.Battle, ev arena.Event) arena.Event {
	if b == nil {
		return ev
	}
	for i, m := range b.Models {
		if m.ID == ev.ModelID {
			ev.ModelID = blindAlias(i)
		}
	}
	if ev.Judgment != nil {
		j := *ev.Judgment
		j.Analysis = ""
		scores := make(map[string]int, len(j.Scores))
		for i, m := range b.Models {
			if s, ok := j.Scores[m.ID]; ok {
				scores[blindAlias(i)] = s
			}
			if j.WinnerID != nil && *j.WinnerID == m.ID {
				w := blindAlias(i)
				j.WinnerID = &w
			}
		}
		j.Scores = scores
		ev.Judgment = &j
	}
	return ev
}

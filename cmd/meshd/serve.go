package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"mistnet/core"
)

// serveOps runs the debug/ops HTTP surface: a JSON stats endpoint, a
// single-shot RPC envelope endpoint, and a websocket tail of a message
// subscription. None of this is the disclaimed RPC/JSON:API transport
// (§1 Non-goals) — it is a thin collaborator exercising the responder and
// store the way the teacher's CLI exercises its node over plain stdout.
func serveOps(addr string, n *meshNode) error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/stats", handleStats(n))
	r.Post("/rpc", handleRPC(n))
	r.Get("/ws/sub", handleSubscribeWS(n))

	srv := &http.Server{Addr: addr, Handler: r}
	return srv.ListenAndServe()
}

func handleStats(n *meshNode) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		peers := n.table.AllKnown()
		verified := 0
		for _, p := range peers {
			if p.Verified {
				verified++
			}
		}
		stats := struct {
			Peers    int       `json:"peers"`
			Verified int       `json:"verified_peers"`
			Users    int       `json:"users"`
			Uptime   string    `json:"uptime"`
			Since    time.Time `json:"started_at"`
		}{
			Peers: len(peers), Verified: verified, Users: len(n.hub.ListUsers()),
			Uptime: time.Since(startTime).String(), Since: startTime,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

func handleRPC(n *meshNode) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var env core.Envelope
		if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		resp := n.responder.Dispatch(req.Context(), env)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleSubscribeWS upgrades to a websocket and streams the header of every
// record the given user/service query matches (the record's key/value data
// is not sent), one JSON object per frame, until a write to the client
// fails.
func handleSubscribeWS(n *meshNode) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		userHex := req.URL.Query().Get("user")
		service := req.URL.Query().Get("service")

		id, err := core.ParseIdentity(userHex)
		if err != nil {
			http.Error(w, "bad user id", http.StatusBadRequest)
			return
		}

		conn, err := wsUpgrader.Upgrade(w, req, nil)
		if err != nil {
			logrus.WithError(err).Warn("ws upgrade failed")
			return
		}
		defer conn.Close()

		global, user := n.hub.Messages().Subscribe(id, core.MsgQuery{Service: service})
		defer global.Cancel()
		defer user.Cancel()

		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()

		out := make(chan *core.Record, 16)
		go pumpSubscription(ctx, global, out)
		go pumpSubscription(ctx, user, out)

		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-out:
				if !ok {
					return
				}
				if err := conn.WriteJSON(rec.Header); err != nil {
					return
				}
			}
		}
	}
}

func pumpSubscription(ctx context.Context, sub *core.Subscription, out chan<- *core.Record) {
	for {
		rec, err := sub.Next(ctx)
		if err != nil || rec == nil {
			return
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return
		}
	}
}

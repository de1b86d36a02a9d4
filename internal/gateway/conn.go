package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/navyas1307/Auction-System/internal/auction"
	"github.com/navyas1307/Auction-System/internal/auth"
	"github.com/navyas1307/Auction-System/internal/fanout"
	"github.com/navyas1307/Auction-System/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Conn is one client connection. It starts unauthenticated, which permits
// read-only subscriptions; bidding and ending require a verified identity.
// No bidder state outlives the connection.
type Conn struct {
	id       string
	ws       *websocket.Conn
	hub      *fanout.Hub
	coord    *auction.Coordinator
	verifier auth.Verifier
	log      *slog.Logger

	sub  *fanout.Subscriber
	out  chan []byte
	done chan struct{}
	once sync.Once

	// Owned by the read pump; never touched elsewhere.
	bidder model.Bidder
	authed bool
}

func newConn(ws *websocket.Conn, hub *fanout.Hub, coord *auction.Coordinator, verifier auth.Verifier, log *slog.Logger) *Conn {
	return &Conn{
		id:       uuid.New().String(),
		ws:       ws,
		hub:      hub,
		coord:    coord,
		verifier: verifier,
		log:      log,
		sub:      fanout.NewSubscriber(256),
		out:      make(chan []byte, 256),
		done:     make(chan struct{}),
	}
}

func (c *Conn) run() {
	go c.writePump()
	go c.forwardEvents()
	c.readPump()
}

func (c *Conn) close() {
	c.once.Do(func() {
		c.hub.Disconnect(c.sub)
		close(c.done)
		c.ws.Close()
	})
}

// forwardEvents moves fan-out events onto the single writer. If the hub
// evicted us as a slow subscriber the channel closes and the connection is
// torn down; the client recovers by reconnecting and re-subscribing.
func (c *Conn) forwardEvents() {
	for ev := range c.sub.Send {
		frame, err := json.Marshal(Envelope{Type: ev.Type, Data: ev.Payload})
		if err != nil {
			continue
		}
		select {
		case c.out <- frame:
		case <-c.done:
			return
		}
	}
	c.close()
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(4096)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", "conn_id", c.id, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendError("malformed message")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch env.Type {
	case MsgAuthenticate:
		c.handleAuthenticate(ctx, env.Data)
	case MsgSubscribe:
		c.handleSubscribe(ctx, env.Data)
	case MsgBid:
		c.handleBid(ctx, env.Data)
	case MsgEndAuction:
		c.handleEndAuction(ctx, env.Data)
	default:
		c.sendError("unknown message type: " + env.Type)
	}
}

func (c *Conn) handleAuthenticate(ctx context.Context, data json.RawMessage) {
	var req authenticateRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Token == "" {
		c.sendError("authenticate requires a token")
		return
	}

	bidder, err := c.verifier.Verify(ctx, req.Token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			c.sendError("authentication failed")
		} else {
			c.log.Warn("auth provider error", "conn_id", c.id, "error", err)
			c.sendError("authentication unavailable")
		}
		return
	}

	c.bidder = bidder
	c.authed = true
	c.reply(MsgAuthenticated, authenticatedReply{ID: bidder.ID, Name: bidder.Name})
}

// handleSubscribe runs snapshot-then-subscribe: the reply carries the state
// as of a single consistent instant tagged with its sequence, and the live
// feed delivers only events strictly newer than that.
func (c *Conn) handleSubscribe(ctx context.Context, data json.RawMessage) {
	var req subscribeRequest
	if err := json.Unmarshal(data, &req); err != nil || req.AuctionID == "" {
		c.sendError("subscribe requires an auctionId")
		return
	}

	// Lazy expiry check before the snapshot, so a joiner of an overdue
	// auction sees it ended rather than stale-active.
	snap, err := c.coord.Snapshot(ctx, req.AuctionID)
	if err != nil {
		c.sendError("auction not found")
		return
	}
	snap, err = c.hub.Subscribe(ctx, req.AuctionID, c.sub)
	if err != nil {
		c.sendError("auction not found")
		return
	}

	reply := snapshotReply{
		AuctionID: req.AuctionID,
		Status:    snap.Status,
		Amount:    snap.Amount,
		Sequence:  snap.Sequence,
	}
	if snap.HasLeader() {
		reply.LeaderName = snap.BidderName
	}
	c.reply(MsgSnapshot, reply)
}

func (c *Conn) handleBid(ctx context.Context, data json.RawMessage) {
	var req bidRequest
	if err := json.Unmarshal(data, &req); err != nil || req.AuctionID == "" {
		c.sendError("bid requires an auctionId and amount")
		return
	}

	if !c.authed {
		c.rejectBid(req.AuctionID, model.Reject(model.ReasonNotAuthenticated))
		return
	}

	accepted, err := c.coord.SubmitBid(ctx, req.AuctionID, c.bidder, req.Amount)
	if err != nil {
		var rej *model.Rejection
		if errors.As(err, &rej) {
			c.rejectBid(req.AuctionID, rej)
			return
		}
		if errors.Is(err, auction.ErrNotFound) {
			c.sendError("auction not found")
			return
		}
		c.log.Error("bid submission failed", "conn_id", c.id, "auction_id", req.AuctionID, "error", err)
		c.sendError("bid failed, query current state before retrying")
		return
	}

	c.reply(MsgBidOK, bidOKReply{
		AuctionID: accepted.AuctionID,
		Amount:    accepted.Amount,
		Sequence:  accepted.Sequence,
	})
}

func (c *Conn) handleEndAuction(ctx context.Context, data json.RawMessage) {
	var req endAuctionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.AuctionID == "" {
		c.sendError("end_auction requires an auctionId")
		return
	}

	if !c.authed {
		c.sendError("you must be logged in to end an auction")
		return
	}

	if err := c.coord.EndAuction(ctx, req.AuctionID, c.bidder); err != nil {
		switch {
		case errors.Is(err, auction.ErrForbidden):
			c.sendError("you can only end your own auctions")
		case errors.Is(err, auction.ErrNotFound):
			c.sendError("auction not found")
		default:
			c.log.Error("end auction failed", "conn_id", c.id, "auction_id", req.AuctionID, "error", err)
			c.sendError("failed to end auction")
		}
		return
	}

	c.reply(MsgEndOK, endOKReply{AuctionID: req.AuctionID})
}

func (c *Conn) rejectBid(auctionID string, rej *model.Rejection) {
	reply := bidRejectedReply{
		AuctionID: auctionID,
		Reason:    rej.Reason,
		Message:   rej.Message(),
	}
	if rej.Reason == model.ReasonBidTooLow {
		min := rej.Minimum
		reply.MinimumAcceptable = &min
	}
	c.reply(MsgBidRejected, reply)
}

func (c *Conn) reply(typ string, payload any) {
	frame, err := encode(typ, payload)
	if err != nil {
		c.log.Error("failed to encode reply", "type", typ, "error", err)
		return
	}
	select {
	case c.out <- frame:
	case <-c.done:
	default:
		// Writer badly backed up; drop the reply rather than block the
		// read loop. The client treats a timeout as unknown outcome.
	}
}

func (c *Conn) sendError(msg string) {
	c.reply(MsgError, errorReply{Message: msg})
}

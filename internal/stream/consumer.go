package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/navyas1307/Auction-System/internal/model"
)

// BidSink persists consumed bid events. Implemented by archive.Postgres.
type BidSink interface {
	InsertBid(ctx context.Context, ev *model.BidEvent) error
}

// Consumer pulls bid events off the BID_EVENTS stream and hands them to the
// sink. Messages are acked only after the sink accepts them, so a write
// failure redelivers instead of dropping.
type Consumer struct {
	conn *nats.Conn
	js   jetstream.JetStream
	sink BidSink
	log  *slog.Logger
}

func NewConsumer(natsURL string, sink BidSink, log *slog.Logger) (*Consumer, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &Consumer{conn: conn, js: js, sink: sink, log: log}, nil
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, StreamName)
	if err != nil {
		return fmt.Errorf("failed to open stream %s: %w", StreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   "bid-archiver",
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handle(msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}

func (c *Consumer) handle(msg jetstream.Msg) {
	var ev model.BidEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		c.log.Error("failed to unmarshal bid event, dropping", "error", err)
		msg.Term()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.sink.InsertBid(ctx, &ev); err != nil {
		c.log.Error("failed to persist bid event, redelivering",
			"event_id", ev.EventID, "auction_id", ev.AuctionID, "error", err)
		msg.Nak()
		return
	}

	c.log.Info("archived bid",
		"event_id", ev.EventID,
		"auction_id", ev.AuctionID,
		"bidder", ev.BidderName,
		"amount", ev.Amount,
		"sequence", ev.Sequence)
	msg.Ack()
}

func (c *Consumer) Close() {
	c.conn.Close()
}

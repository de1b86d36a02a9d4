// Package stream carries accepted-bid events from the coordinator to the
// archival worker over NATS JetStream. At-least-once, acknowledged by the
// server before publish returns; the bid hot path calls this from a
// goroutine and never waits on it.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/navyas1307/Auction-System/internal/model"
)

const (
	StreamName     = "BID_EVENTS"
	subjectPrefix  = "bid.events."
	subjectPattern = "bid.events.*"
)

// Publisher writes bid events to the BID_EVENTS stream.
type Publisher struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

func NewPublisher(natsURL string) (*Publisher, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Accepted bids awaiting archival",
		Subjects:    []string{subjectPattern},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}

	return &Publisher{conn: conn, js: js}, nil
}

// RecordBid publishes one accepted bid, waiting for the server's ack so the
// event is persisted before we report success.
func (p *Publisher) RecordBid(ctx context.Context, ev model.BidEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal bid event: %w", err)
	}
	if _, err := p.js.Publish(ctx, subjectPrefix+ev.AuctionID, data); err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.conn.Close()
}

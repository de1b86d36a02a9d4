// Package archive is the durable-store collaborator: PostgreSQL records of
// auctions and bids for historical query. The coordinator treats it as
// external plumbing; a write failure here never unwinds an in-memory
// transition.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/navyas1307/Auction-System/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// InitSchema creates the tables if they do not exist.
func (p *Postgres) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS auctions (
		id VARCHAR(255) PRIMARY KEY,
		item_name VARCHAR(255) NOT NULL,
		description TEXT,
		starting_price DECIMAL(10, 2) NOT NULL,
		bid_increment DECIMAL(10, 2) NOT NULL,
		duration_minutes INTEGER NOT NULL,
		seller_id VARCHAR(255),
		seller_name VARCHAR(255) NOT NULL,
		seller_email VARCHAR(255) NOT NULL,
		status VARCHAR(50) NOT NULL DEFAULT 'active',
		start_time TIMESTAMPTZ NOT NULL,
		final_amount DECIMAL(10, 2),
		winner_name VARCHAR(255),
		winner_email VARCHAR(255),
		ended_by VARCHAR(50),
		ended_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS bids (
		id VARCHAR(255) PRIMARY KEY,
		auction_id VARCHAR(255) NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
		bidder_id VARCHAR(255),
		bidder_name VARCHAR(255) NOT NULL,
		bidder_email VARCHAR(255),
		amount DECIMAL(10, 2) NOT NULL,
		sequence BIGINT NOT NULL,
		bid_time TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_bids_auction_id ON bids(auction_id);
	CREATE INDEX IF NOT EXISTS idx_bids_bid_time ON bids(bid_time);
	CREATE INDEX IF NOT EXISTS idx_auctions_status ON auctions(status);
	`
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateAuction records a new listing.
func (p *Postgres) CreateAuction(ctx context.Context, a *model.Auction) error {
	query := `
		INSERT INTO auctions
			(id, item_name, description, starting_price, bid_increment,
			 duration_minutes, seller_id, seller_name, seller_email, status, start_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := p.db.ExecContext(ctx, query,
		a.ID, a.ItemName, a.Description, a.StartingPrice, a.BidIncrement,
		a.DurationMins, nullable(a.SellerID), a.SellerName, a.SellerEmail,
		model.StatusActive, a.StartTime)
	if err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	return nil
}

// LoadAuction fetches one auction row.
func (p *Postgres) LoadAuction(ctx context.Context, id string) (*model.Auction, model.Status, error) {
	query := `
		SELECT id, item_name, description, starting_price, bid_increment,
		       duration_minutes, COALESCE(seller_id, ''), seller_name, seller_email,
		       status, start_time
		FROM auctions WHERE id = $1
	`
	a := &model.Auction{}
	var status model.Status
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.ItemName, &a.Description, &a.StartingPrice, &a.BidIncrement,
		&a.DurationMins, &a.SellerID, &a.SellerName, &a.SellerEmail,
		&status, &a.StartTime)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("auction %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load auction: %w", err)
	}
	a.Duration = time.Duration(a.DurationMins) * time.Minute
	return a, status, nil
}

// LoadActiveAuctions returns every auction still marked active, for restart
// recovery: each gets re-registered so its expiry is re-derived from
// start_time + duration rather than a lost in-process timer.
func (p *Postgres) LoadActiveAuctions(ctx context.Context) ([]*model.Auction, error) {
	query := `
		SELECT id, item_name, description, starting_price, bid_increment,
		       duration_minutes, COALESCE(seller_id, ''), seller_name, seller_email, start_time
		FROM auctions WHERE status = 'active'
		ORDER BY created_at DESC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active auctions: %w", err)
	}
	defer rows.Close()

	var out []*model.Auction
	for rows.Next() {
		a := &model.Auction{}
		if err := rows.Scan(&a.ID, &a.ItemName, &a.Description, &a.StartingPrice,
			&a.BidIncrement, &a.DurationMins, &a.SellerID, &a.SellerName,
			&a.SellerEmail, &a.StartTime); err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		a.Duration = time.Duration(a.DurationMins) * time.Minute
		out = append(out, a)
	}
	return out, rows.Err()
}

// AuctionRow pairs a stored auction with its lifecycle status.
type AuctionRow struct {
	Auction *model.Auction
	Status  model.Status
}

// AuctionsBySeller returns every auction the seller created, newest first,
// ended ones included.
func (p *Postgres) AuctionsBySeller(ctx context.Context, sellerID string) ([]AuctionRow, error) {
	query := `
		SELECT id, item_name, description, starting_price, bid_increment,
		       duration_minutes, COALESCE(seller_id, ''), seller_name, seller_email,
		       status, start_time
		FROM auctions WHERE seller_id = $1
		ORDER BY created_at DESC
	`
	rows, err := p.db.QueryContext(ctx, query, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query seller auctions: %w", err)
	}
	defer rows.Close()

	var out []AuctionRow
	for rows.Next() {
		a := &model.Auction{}
		var status model.Status
		if err := rows.Scan(&a.ID, &a.ItemName, &a.Description, &a.StartingPrice,
			&a.BidIncrement, &a.DurationMins, &a.SellerID, &a.SellerName,
			&a.SellerEmail, &status, &a.StartTime); err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		a.Duration = time.Duration(a.DurationMins) * time.Minute
		out = append(out, AuctionRow{Auction: a, Status: status})
	}
	return out, rows.Err()
}

// BidderBid is one of a bidder's own bids joined with the listing it was
// placed on.
type BidderBid struct {
	Bid      model.Bid
	ItemName string
	Status   model.Status
}

// BidsByBidder returns the bidder's own bids, newest first.
func (p *Postgres) BidsByBidder(ctx context.Context, bidderID string, limit int) ([]BidderBid, error) {
	query := `
		SELECT b.id, b.auction_id, b.bidder_name, b.amount, b.bid_time,
		       a.item_name, a.status
		FROM bids b
		JOIN auctions a ON a.id = b.auction_id
		WHERE b.bidder_id = $1
		ORDER BY b.bid_time DESC
		LIMIT $2
	`
	rows, err := p.db.QueryContext(ctx, query, bidderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bidder bids: %w", err)
	}
	defer rows.Close()

	var out []BidderBid
	for rows.Next() {
		var bb BidderBid
		if err := rows.Scan(&bb.Bid.ID, &bb.Bid.AuctionID, &bb.Bid.BidderName,
			&bb.Bid.Amount, &bb.Bid.BidTime, &bb.ItemName, &bb.Status); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		out = append(out, bb)
	}
	return out, rows.Err()
}

// FinalizeAuction durably records the outcome of an ended auction.
// Idempotent: replaying after a partial failure is safe.
func (p *Postgres) FinalizeAuction(ctx context.Context, auctionID string, final model.HighestBid, endedBy model.EndedBy) error {
	var winnerName, winnerEmail sql.NullString
	var finalAmount *decimal.Decimal
	if final.HasLeader() {
		winnerName = sql.NullString{String: final.BidderName, Valid: true}
		winnerEmail = sql.NullString{String: final.BidderEmail, Valid: true}
		finalAmount = &final.Amount
	}
	query := `
		UPDATE auctions
		SET status = 'ended',
		    final_amount = $1,
		    winner_name = $2,
		    winner_email = $3,
		    ended_by = $4,
		    ended_at = COALESCE(ended_at, CURRENT_TIMESTAMP)
		WHERE id = $5
	`
	if _, err := p.db.ExecContext(ctx, query, finalAmount, winnerName, winnerEmail, string(endedBy), auctionID); err != nil {
		return fmt.Errorf("failed to finalize auction: %w", err)
	}
	return nil
}

// InsertBid persists one accepted bid from the archival pipeline.
// ON CONFLICT DO NOTHING makes at-least-once delivery harmless.
func (p *Postgres) InsertBid(ctx context.Context, ev *model.BidEvent) error {
	query := `
		INSERT INTO bids (id, auction_id, bidder_id, bidder_name, bidder_email, amount, sequence, bid_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := p.db.ExecContext(ctx, query,
		ev.BidID, ev.AuctionID, nullable(ev.BidderID), ev.BidderName,
		nullable(ev.BidderEmail), ev.Amount, ev.Sequence, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

// BidHistory returns the most recent accepted bids for an auction, newest
// first. Bidder emails and IDs stay out of the result.
func (p *Postgres) BidHistory(ctx context.Context, auctionID string, limit int) ([]*model.Bid, error) {
	query := `
		SELECT id, auction_id, bidder_name, amount, bid_time
		FROM bids
		WHERE auction_id = $1
		ORDER BY sequence DESC
		LIMIT $2
	`
	rows, err := p.db.QueryContext(ctx, query, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var bids []*model.Bid
	for rows.Next() {
		b := &model.Bid{}
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderName, &b.Amount, &b.BidTime); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

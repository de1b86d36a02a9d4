package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/navyas1307/Auction-System/internal/model"
)

// RedisStore keeps each auction's record in a Redis hash and runs every
// mutation as a Lua script, so the compare and the write execute as one
// atomic operation on the server. Amounts are stored as integer cents so
// the script compares exactly.
type RedisStore struct {
	client     *redis.Client
	bidScript  *redis.Script
	endScript  *redis.Script
	initScript *redis.Script
}

// Hash fields per auction key.
//
//	status      "active" | "ended"
//	amount      current highest bid, integer cents
//	increment   minimum increment, integer cents
//	seq         sequence counter, bumped on every accepted bid and once
//	            more by the end transition
//	bidder_id / bidder_name / bidder_email   current leader, absent until
//	            the first accepted bid
//	ended_by    trigger that won the end transition
const (
	bidLua = `
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return {-1}
end
if redis.call('HGET', key, 'status') ~= 'active' then
	return {-2}
end
local current = tonumber(redis.call('HGET', key, 'amount'))
local increment = tonumber(redis.call('HGET', key, 'increment'))
local amount = tonumber(ARGV[1])
if amount < current + increment then
	return {0, current, increment}
end
redis.call('HSET', key, 'amount', amount, 'bidder_id', ARGV[2], 'bidder_name', ARGV[3], 'bidder_email', ARGV[4])
local seq = redis.call('HINCRBY', key, 'seq', 1)
return {1, current, seq}
`

	endLua = `
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return {-1}
end
if redis.call('HGET', key, 'status') == 'ended' then
	return {0, redis.call('HGET', key, 'ended_by')}
end
redis.call('HSET', key, 'status', 'ended', 'ended_by', ARGV[1])
redis.call('HINCRBY', key, 'seq', 1)
return {1, ARGV[1]}
`

	initLua = `
local key = KEYS[1]
if redis.call('EXISTS', key) == 1 then
	return 0
end
redis.call('HSET', key, 'status', 'active', 'amount', ARGV[1], 'increment', ARGV[2], 'seq', 0)
return 1
`
)

func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client:     rdb,
		bidScript:  redis.NewScript(bidLua),
		endScript:  redis.NewScript(endLua),
		initScript: redis.NewScript(initLua),
	}, nil
}

func auctionKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:state", auctionID)
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func (s *RedisStore) Init(ctx context.Context, a *model.Auction) error {
	err := s.initScript.Run(ctx, s.client, []string{auctionKey(a.ID)},
		toCents(a.StartingPrice), toCents(a.BidIncrement)).Err()
	if err != nil {
		return fmt.Errorf("failed to init auction state: %w", err)
	}
	return nil
}

func (s *RedisStore) CommitBid(ctx context.Context, auctionID string, bidder model.Bidder, amount decimal.Decimal) (BidCommit, error) {
	raw, err := s.bidScript.Run(ctx, s.client, []string{auctionKey(auctionID)},
		toCents(amount), bidder.ID, bidder.Name, bidder.Email).Result()
	if err != nil {
		return BidCommit{}, fmt.Errorf("failed to execute bid script: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return BidCommit{}, fmt.Errorf("unexpected bid script reply: %v", raw)
	}

	switch reply[0].(int64) {
	case -1:
		return BidCommit{}, ErrNotFound
	case -2:
		return BidCommit{Ended: true}, nil
	case 0:
		current := fromCents(reply[1].(int64))
		increment := fromCents(reply[2].(int64))
		return BidCommit{Previous: current, Minimum: current.Add(increment)}, nil
	case 1:
		return BidCommit{
			Accepted: true,
			Previous: fromCents(reply[1].(int64)),
			Sequence: reply[2].(int64),
		}, nil
	}
	return BidCommit{}, fmt.Errorf("unexpected bid script result code: %v", reply[0])
}

func (s *RedisStore) Snapshot(ctx context.Context, auctionID string) (model.HighestBid, error) {
	fields, err := s.client.HGetAll(ctx, auctionKey(auctionID)).Result()
	if err != nil {
		return model.HighestBid{}, fmt.Errorf("failed to read auction state: %w", err)
	}
	if len(fields) == 0 {
		return model.HighestBid{}, ErrNotFound
	}
	return parseSnapshot(auctionID, fields)
}

// parseSnapshot decodes the hash fields, refusing corrupt numerics rather
// than snapshotting them as zero.
func parseSnapshot(auctionID string, fields map[string]string) (model.HighestBid, error) {
	cents, err := strconv.ParseInt(fields["amount"], 10, 64)
	if err != nil {
		return model.HighestBid{}, fmt.Errorf("corrupt amount for auction %s: %q", auctionID, fields["amount"])
	}
	seq, err := strconv.ParseInt(fields["seq"], 10, 64)
	if err != nil {
		return model.HighestBid{}, fmt.Errorf("corrupt sequence for auction %s: %q", auctionID, fields["seq"])
	}

	return model.HighestBid{
		AuctionID:   auctionID,
		Status:      model.Status(fields["status"]),
		Amount:      fromCents(cents),
		BidderID:    fields["bidder_id"],
		BidderName:  fields["bidder_name"],
		BidderEmail: fields["bidder_email"],
		Sequence:    seq,
	}, nil
}

func (s *RedisStore) End(ctx context.Context, auctionID string, by model.EndedBy) (EndTransition, error) {
	raw, err := s.endScript.Run(ctx, s.client, []string{auctionKey(auctionID)}, string(by)).Result()
	if err != nil {
		return EndTransition{}, fmt.Errorf("failed to execute end script: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return EndTransition{}, fmt.Errorf("unexpected end script reply: %v", raw)
	}

	final, err := s.Snapshot(ctx, auctionID)
	if err != nil {
		return EndTransition{}, err
	}

	switch reply[0].(int64) {
	case -1:
		return EndTransition{}, ErrNotFound
	case 0:
		return EndTransition{EndedBy: model.EndedBy(reply[1].(string)), Final: final}, nil
	case 1:
		return EndTransition{Won: true, EndedBy: by, Final: final}, nil
	}
	return EndTransition{}, fmt.Errorf("unexpected end script result code: %v", reply[0])
}

func (s *RedisStore) Remove(ctx context.Context, auctionID string) error {
	if err := s.client.Del(ctx, auctionKey(auctionID)).Err(); err != nil {
		return fmt.Errorf("failed to remove auction state: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

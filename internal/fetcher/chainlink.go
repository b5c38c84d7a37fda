package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint80","name":"_roundId","type":"uint80"}],"name":"getRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorV3ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ContractCaller is the subset of ethclient.Client used by Chainlink.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkOptions parameterise the on-chain feed fetcher.
type ChainlinkOptions struct {
	RPCURL string
	// Timeout bounds each RPC call, not the whole walk.
	Timeout  time.Duration
	Interval time.Duration
	// MaxRounds bounds how far back a single fetch walks.
	MaxRounds int
	// Concurrency caps in-flight getRoundData calls.
	Concurrency int
	Now         func() time.Time
}

// Chainlink reads an AggregatorV3 price feed and resamples its rounds onto a
// fixed interval grid.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	caller    ContractCaller
	clientMux sync.Mutex
}

type feedRound struct {
	ID        *big.Int
	Answer    *big.Int
	UpdatedAt time.Time
}

// NewChainlink builds a new feed fetcher that dials RPCURL lazily.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 2000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink_fetcher").Logger()}
}

// NewChainlinkWithCaller uses an existing contract caller instead of dialing.
func NewChainlinkWithCaller(opts ChainlinkOptions, caller ContractCaller, logger zerolog.Logger) *Chainlink {
	c := NewChainlink(opts, logger)
	c.caller = caller
	return c
}

// Interval returns the spacing of the resampled series.
func (c *Chainlink) Interval() time.Duration {
	return c.opts.Interval
}

// FetchPrices returns count prices, newest first: the feed answer in effect
// at now, now-interval, now-2*interval and so on.
func (c *Chainlink) FetchPrices(ctx context.Context, inst Instrument, count int) ([]float64, error) {
	if count <= 0 {
		return nil, errors.New("price count must be greater than zero")
	}

	now := c.opts.Now().UTC()
	boundaries := make([]time.Time, count)
	for i := range boundaries {
		boundaries[i] = now.Add(-time.Duration(i) * c.opts.Interval)
	}

	values, err := c.resample(ctx, inst, boundaries)
	if err != nil {
		return nil, err
	}
	prices := make([]float64, len(values))
	for i, v := range values {
		prices[i] = v.InexactFloat64()
	}
	return prices, nil
}

// PriceAt returns the newest feed answer updated strictly before at.
func (c *Chainlink) PriceAt(ctx context.Context, inst Instrument, at time.Time) (decimal.Decimal, error) {
	values, err := c.resample(ctx, inst, []time.Time{at.UTC().Add(-time.Second)})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return values[0], nil
}

func (c *Chainlink) resample(ctx context.Context, inst Instrument, boundaries []time.Time) ([]decimal.Decimal, error) {
	if inst.FeedAddress == "" {
		return nil, errors.New("feed address not configured")
	}

	caller, err := c.getCaller(ctx)
	if err != nil {
		return nil, err
	}

	feed := common.HexToAddress(inst.FeedAddress)
	decimals, err := c.decimals(ctx, caller, feed)
	if err != nil {
		return nil, err
	}

	oldest := boundaries[len(boundaries)-1]
	rounds, err := c.walkRounds(ctx, caller, feed, oldest)
	if err != nil {
		return nil, err
	}

	answers, err := bucketRounds(rounds, boundaries)
	if err != nil {
		return nil, err
	}

	values := make([]decimal.Decimal, len(answers))
	for i, a := range answers {
		values[i] = decimal.NewFromBigInt(a, -int32(decimals))
	}
	c.logger.Debug().Str("feed", feed.Hex()).Int("rounds", len(rounds)).Int("points", len(values)).Msg("resampled feed rounds")
	return values, nil
}

// walkRounds returns rounds newest first, stopping once a round updated at or
// before oldest has been seen or the first round of the current feed phase
// has been reached. Older rounds are fetched in doubling batches.
func (c *Chainlink) walkRounds(ctx context.Context, caller ContractCaller, feed common.Address, oldest time.Time) ([]feedRound, error) {
	latest, err := c.callRound(ctx, caller, feed, "latestRoundData")
	if err != nil {
		return nil, err
	}

	rounds := []feedRound{latest}
	batch := 1
	for rounds[len(rounds)-1].UpdatedAt.After(oldest) {
		if len(rounds) >= c.opts.MaxRounds {
			return nil, fmt.Errorf("%w: feed history older than %s needs more than %d rounds", ErrNoData, oldest.Format(time.RFC3339), c.opts.MaxRounds)
		}
		ids := previousRoundIDs(rounds[len(rounds)-1].ID, min(batch, c.opts.MaxRounds-len(rounds)))
		if len(ids) == 0 {
			c.logger.Warn().
				Str("feed", feed.Hex()).
				Str("round", rounds[len(rounds)-1].ID.String()).
				Time("oldest_needed", oldest).
				Msg("reached first round of feed phase")
			return rounds, nil
		}

		fetched := make([]feedRound, len(ids))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.opts.Concurrency)
		for i, id := range ids {
			i, id := i, id
			g.Go(func() error {
				round, err := c.callRound(gctx, caller, feed, "getRoundData", id)
				if err != nil {
					return fmt.Errorf("round %s: %w", id, err)
				}
				fetched[i] = round
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		rounds = append(rounds, fetched...)
		batch *= 2
	}
	return rounds, nil
}

var phaseMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1))

// previousRoundIDs returns up to n round ids older than id within the same
// phase, newest first. Proxy round ids are phaseId<<64 | aggregatorRoundId and
// aggregator rounds start at 1.
func previousRoundIDs(id *big.Int, n int) []*big.Int {
	aggRound := new(big.Int).And(id, phaseMask)
	available := new(big.Int).Sub(aggRound, big.NewInt(1))
	if available.Sign() <= 0 || n <= 0 {
		return nil
	}
	if available.IsInt64() && available.Int64() < int64(n) {
		n = int(available.Int64())
	}

	ids := make([]*big.Int, n)
	for i := range ids {
		ids[i] = new(big.Int).Sub(id, big.NewInt(int64(i+1)))
	}
	return ids
}

// bucketRounds picks, for every boundary, the answer of the newest round
// updated at or before it. Rounds must be ordered newest first.
func bucketRounds(rounds []feedRound, boundaries []time.Time) ([]*big.Int, error) {
	answers := make([]*big.Int, len(boundaries))
	for i, b := range boundaries {
		for _, r := range rounds {
			if !r.UpdatedAt.After(b) {
				answers[i] = r.Answer
				break
			}
		}
		if answers[i] == nil {
			return nil, fmt.Errorf("%w: no feed round at or before %s", ErrNoData, b.Format(time.RFC3339))
		}
	}
	return answers, nil
}

func (c *Chainlink) decimals(ctx context.Context, caller ContractCaller, feed common.Address) (uint8, error) {
	outputs, err := c.call(ctx, caller, feed, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	return d, nil
}

func (c *Chainlink) callRound(ctx context.Context, caller ContractCaller, feed common.Address, method string, args ...interface{}) (feedRound, error) {
	outputs, err := c.call(ctx, caller, feed, method, args...)
	if err != nil {
		return feedRound{}, err
	}
	if len(outputs) != 5 {
		return feedRound{}, fmt.Errorf("unexpected %s response", method)
	}
	id, ok1 := outputs[0].(*big.Int)
	answer, ok2 := outputs[1].(*big.Int)
	updated, ok3 := outputs[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return feedRound{}, fmt.Errorf("failed to decode %s output", method)
	}
	return feedRound{ID: id, Answer: answer, UpdatedAt: time.Unix(updated.Int64(), 0).UTC()}, nil
}

func (c *Chainlink) call(ctx context.Context, caller ContractCaller, feed common.Address, method string, args ...interface{}) ([]interface{}, error) {
	payload, err := aggregatorV3ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	res, err := caller.CallContract(callCtx, ethereum.CallMsg{To: &feed, Data: payload}, nil)
	if err != nil {
		return nil, err
	}
	return aggregatorV3ABI.Unpack(method, res)
}

func (c *Chainlink) getCaller(ctx context.Context) (ContractCaller, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.caller != nil {
		return c.caller, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.caller = client
	return client, nil
}

var _ Source = (*Chainlink)(nil)

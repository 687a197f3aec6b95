package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps go-ethereum RPC and provides helper methods. The endpoint is
// dialed on first use and again on the next call after a failed dial, so an
// unreachable node surfaces as a request error instead of a startup failure.
// Once connected, the rpc client redials a dropped websocket by itself.
type Client struct {
	url string

	mu        sync.Mutex
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// NewClient creates a chain client for the RPC URL without connecting. Live
// log subscriptions require a websocket (or IPC) endpoint.
func NewClient(rpcURL string) *Client {
	return &Client{url: rpcURL}
}

func (c *Client) eth(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ethClient != nil {
		return c.ethClient, nil
	}
	rpcClient, err := rpc.DialContext(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c.rpcClient = rpcClient
	c.ethClient = ethclient.NewClient(rpcClient)
	return c.ethClient, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
		c.ethClient = nil
	}
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	client, err := c.eth(ctx)
	if err != nil {
		return nil, err
	}
	return client.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	client, err := c.eth(ctx)
	if err != nil {
		return 0, err
	}
	return client.BlockNumber(ctx)
}

// FilterLogs returns logs in the given range for addresses and topic0 filters.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	client, err := c.eth(ctx)
	if err != nil {
		return nil, err
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}
	return client.FilterLogs(ctx, query)
}

// SubscribeLogs streams new logs emitted by the addresses into ch.
func (c *Client) SubscribeLogs(ctx context.Context, addresses []common.Address, ch chan<- types.Log) (ethereum.Subscription, error) {
	client, err := c.eth(ctx)
	if err != nil {
		return nil, err
	}
	return client.SubscribeFilterLogs(ctx, ethereum.FilterQuery{Addresses: addresses}, ch)
}

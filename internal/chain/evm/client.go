// Package evm implements chain.Reader against an EVM JSON-RPC endpoint
// using go-ethereum's ethclient.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"poolpilot/internal/chain"
)

// factoryABI covers the factory's creation event; poolABI covers the pool
// contract's view surface plus its payable invest entrypoint.
const factoryABIJSON = `[
  {"anonymous":false,"inputs":[
    {"indexed":true,"name":"pool","type":"address"},
    {"indexed":true,"name":"creator","type":"address"},
    {"indexed":false,"name":"name","type":"string"},
    {"indexed":false,"name":"symbol","type":"string"}
  ],"name":"PoolCreated","type":"event"}
]`

const poolABIJSON = `[
  {"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"collection","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"poolKind","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"buyPrice","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"sellPrice","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"creatorFeeBps","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"totalContribution","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"invest","outputs":[],"stateMutability":"payable","type":"function"}
]`

var poolCreatedTopic = crypto.Keccak256Hash([]byte("PoolCreated(address,address,string,string)"))

const receiptPollInterval = 3 * time.Second

// Client talks to a single EVM chain.
type Client struct {
	chainID    int64
	factory    ethcommon.Address
	eth        *ethclient.Client
	factoryABI abi.ABI
	poolABI    abi.ABI
	rpcTimeout time.Duration
	log        *zap.Logger
}

func NewClient(chainID int64, rpcURL, factoryAddress string, rpcTimeout time.Duration, log *zap.Logger) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc for chain %d: %w", chainID, err)
	}
	fABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	pABI, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	if rpcTimeout <= 0 {
		rpcTimeout = 15 * time.Second
	}
	return &Client{
		chainID:    chainID,
		factory:    ethcommon.HexToAddress(factoryAddress),
		eth:        eth,
		factoryABI: fABI,
		poolABI:    pABI,
		rpcTimeout: rpcTimeout,
		log:        log.With(zap.Int64("chain_id", chainID)),
	}, nil
}

func (c *Client) Close() {
	if c != nil && c.eth != nil {
		c.eth.Close()
	}
}

func (c *Client) ChainID() int64 { return c.chainID }

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	return c.eth.BlockNumber(ctx)
}

func (c *Client) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, fmt.Errorf("header %d: %w", blockNumber, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (c *Client) FilterPoolCreated(ctx context.Context, fromBlock, toBlock uint64) ([]chain.PoolCreatedEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []ethcommon.Address{c.factory},
		Topics:    [][]ethcommon.Hash{{poolCreatedTopic}},
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d,%d]: %w", fromBlock, toBlock, err)
	}

	events := make([]chain.PoolCreatedEvent, 0, len(logs))
	timestamps := make(map[uint64]time.Time)
	for _, lg := range logs {
		ev, err := c.decodePoolCreated(lg)
		if err != nil {
			c.log.Warn("skip undecodable pool created log",
				zap.String("tx", lg.TxHash.Hex()), zap.Error(err))
			continue
		}
		ts, ok := timestamps[lg.BlockNumber]
		if !ok {
			ts, err = c.BlockTimestamp(ctx, lg.BlockNumber)
			if err != nil {
				ts = time.Now().UTC()
			}
			timestamps[lg.BlockNumber] = ts
		}
		ev.Timestamp = ts
		events = append(events, *ev)
	}
	return events, nil
}

func (c *Client) PoolCreatedInTx(ctx context.Context, txHash string) (*chain.PoolCreatedEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	receipt, err := c.eth.TransactionReceipt(ctx, ethcommon.HexToHash(txHash))
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", txHash, err)
	}
	for _, lg := range receipt.Logs {
		if lg.Address != c.factory || len(lg.Topics) == 0 || lg.Topics[0] != poolCreatedTopic {
			continue
		}
		ev, err := c.decodePoolCreated(*lg)
		if err != nil {
			return nil, err
		}
		if ts, tsErr := c.BlockTimestamp(ctx, lg.BlockNumber); tsErr == nil {
			ev.Timestamp = ts
		} else {
			ev.Timestamp = time.Now().UTC()
		}
		return ev, nil
	}
	return nil, chain.ErrNoPoolCreated
}

func (c *Client) decodePoolCreated(lg types.Log) (*chain.PoolCreatedEvent, error) {
	if len(lg.Topics) < 3 {
		return nil, fmt.Errorf("pool created log has %d topics", len(lg.Topics))
	}
	var data struct {
		Name   string
		Symbol string
	}
	if err := c.factoryABI.UnpackIntoInterface(&data, "PoolCreated", lg.Data); err != nil {
		return nil, fmt.Errorf("unpack pool created data: %w", err)
	}
	return &chain.PoolCreatedEvent{
		ChainID:     c.chainID,
		PoolAddress: strings.ToLower(ethcommon.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
		Creator:     strings.ToLower(ethcommon.BytesToAddress(lg.Topics[2].Bytes()).Hex()),
		Name:        data.Name,
		Symbol:      data.Symbol,
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
	}, nil
}

// PoolState reads each view independently so a pool missing one getter does
// not lose the rest.
func (c *Client) PoolState(ctx context.Context, poolAddress string) (*chain.PoolState, error) {
	addr := ethcommon.HexToAddress(poolAddress)
	state := &chain.PoolState{}

	if name, err := c.callString(ctx, addr, "name"); err == nil {
		state.Name = name
	}
	if coll, err := c.callAddress(ctx, addr, "collection"); err == nil {
		state.Collection = strings.ToLower(coll.Hex())
	}
	if kind, err := c.callUint8(ctx, addr, "poolKind"); err == nil {
		if kind == 1 {
			state.Kind = "COLLECTION"
		} else {
			state.Kind = "TOKEN"
		}
	}
	if v, err := c.callUint256(ctx, addr, "buyPrice"); err == nil {
		state.BuyPriceWei = v
	}
	if v, err := c.callUint256(ctx, addr, "sellPrice"); err == nil {
		state.SellPriceWei = v
	}
	if v, err := c.callUint256(ctx, addr, "creatorFeeBps"); err == nil {
		state.CreatorFeePct = v
	}
	if v, err := c.callUint256(ctx, addr, "totalContribution"); err == nil {
		state.TotalContribution = v
	}
	return state, nil
}

func (c *Client) call(ctx context.Context, to ethcommon.Address, method string) ([]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	input, err := c.poolABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := c.poolABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("call %s returned no values", method)
	}
	return vals, nil
}

func (c *Client) callString(ctx context.Context, to ethcommon.Address, method string) (string, error) {
	vals, err := c.call(ctx, to, method)
	if err != nil {
		return "", err
	}
	s, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return s, nil
}

func (c *Client) callAddress(ctx context.Context, to ethcommon.Address, method string) (ethcommon.Address, error) {
	vals, err := c.call(ctx, to, method)
	if err != nil {
		return ethcommon.Address{}, err
	}
	a, ok := vals[0].(ethcommon.Address)
	if !ok {
		return ethcommon.Address{}, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return a, nil
}

func (c *Client) callUint8(ctx context.Context, to ethcommon.Address, method string) (uint8, error) {
	vals, err := c.call(ctx, to, method)
	if err != nil {
		return 0, err
	}
	u, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return u, nil
}

func (c *Client) callUint256(ctx context.Context, to ethcommon.Address, method string) (*big.Int, error) {
	vals, err := c.call(ctx, to, method)
	if err != nil {
		return nil, err
	}
	b, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return b, nil
}

func (c *Client) Invest(ctx context.Context, signer chain.TxSigner, poolAddress string, amountWei *big.Int) (string, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return "", fmt.Errorf("invest amount must be positive")
	}
	to := ethcommon.HexToAddress(poolAddress)
	from := ethcommon.HexToAddress(signer.Address())

	input, err := c.poolABI.Pack("invest")
	if err != nil {
		return "", fmt.Errorf("pack invest: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(callCtx, from)
	if err != nil {
		return "", fmt.Errorf("nonce for %s: %w", from.Hex(), err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(callCtx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	gasLimit, err := c.eth.EstimateGas(callCtx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: amountWei,
		Data:  input,
	})
	if err != nil {
		// Estimation can fail on nodes that reject value-bearing
		// simulations; a fixed ceiling keeps the send alive.
		gasLimit = 300_000
		c.log.Warn("gas estimation failed, using fallback limit",
			zap.String("pool", poolAddress), zap.Error(err))
	}

	signedRaw, err := signer.SignPayload(ctx, &chain.TxPayload{
		ChainID:  c.chainID,
		Nonce:    nonce,
		To:       to.Hex(),
		ValueWei: amountWei,
		GasLimit: gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})
	if err != nil {
		return "", fmt.Errorf("sign invest tx: %w", err)
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(signedRaw); err != nil {
		return "", fmt.Errorf("decode signed tx: %w", err)
	}
	if err := c.eth.SendTransaction(callCtx, &tx); err != nil {
		return "", fmt.Errorf("send invest tx: %w", err)
	}
	return tx.Hash().Hex(), nil
}

func (c *Client) WaitForReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	hash := ethcommon.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := func() (*types.Receipt, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
			defer cancel()
			return c.eth.TransactionReceipt(callCtx, hash)
		}()
		if err == nil && receipt != nil {
			return &chain.Receipt{
				TxHash:      txHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				Status:      receipt.Status,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

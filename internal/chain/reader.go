package chain

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// ErrNoPoolCreated is returned by PoolCreatedInTx when the transaction's
// receipt carries no recognizable pool-creation event.
var ErrNoPoolCreated = errors.New("no pool created event in transaction")

// PoolCreatedEvent is a decoded factory event.
type PoolCreatedEvent struct {
	ChainID     int64
	PoolAddress string
	Creator     string
	Name        string
	Symbol      string
	TxHash      string
	BlockNumber uint64
	Timestamp   time.Time
}

// PoolState is the observable state of a pool contract. Fields that could
// not be read stay nil/empty; callers fall back to defaults.
type PoolState struct {
	Name              string
	Collection        string
	Kind              string
	BuyPriceWei       *big.Int
	SellPriceWei      *big.Int
	CreatorFeePct     *big.Int // basis points on chain, divided by 100 for percent
	TotalContribution *big.Int
}

type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Status      uint64
}

// TxSigner signs a prepared investment transaction. Implemented by the
// custody vault; key material never crosses this interface.
type TxSigner interface {
	Address() string
	SignPayload(ctx context.Context, payload *TxPayload) ([]byte, error)
}

// TxPayload is an unsigned transaction in chain-neutral form. The reader
// assembles it, the signer returns the serialized signed transaction.
type TxPayload struct {
	ChainID  int64
	Nonce    uint64
	To       string
	ValueWei *big.Int
	GasLimit uint64
	GasPrice *big.Int
	Data     []byte
}

// Reader is the abstract chain capability consumed by the detector and
// executor: read head/events/state, submit a signed transaction, await its
// confirmation. Implementations wrap one RPC endpoint for one chain.
type Reader interface {
	ChainID() int64

	BlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)

	// FilterPoolCreated returns factory pool-creation events in the
	// inclusive range [fromBlock, toBlock], in increasing block order.
	FilterPoolCreated(ctx context.Context, fromBlock, toBlock uint64) ([]PoolCreatedEvent, error)

	// PoolCreatedInTx decodes the creation event from one known
	// transaction, independent of any block cursor.
	PoolCreatedInTx(ctx context.Context, txHash string) (*PoolCreatedEvent, error)

	PoolState(ctx context.Context, poolAddress string) (*PoolState, error)

	// Invest submits a signed "invest" transaction carrying amountWei to
	// the pool contract and returns the transaction hash.
	Invest(ctx context.Context, signer TxSigner, poolAddress string, amountWei *big.Int) (string, error)

	// WaitForReceipt blocks until the transaction is mined or ctx expires.
	WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

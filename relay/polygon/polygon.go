// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package polygon implements the external ledger on an EVM voting contract
// reached over JSON-RPC. Importing it registers the "polygon" relay backend.
package polygon

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/danielhkuo/chainballot/relay"
)

const (
	methodRegister  = "registrarVotos"
	methodTotal     = "obterTotalCandidatos"
	methodCandidate = "obterCandidato"
)

// contractABI covers the three functions the relay calls.
const contractABI = `[
	{"type":"function","name":"registrarVotos","stateMutability":"nonpayable",
	 "inputs":[{"name":"idCandidato","type":"string"},{"name":"votos","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"obterTotalCandidatos","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"obterCandidato","stateMutability":"view",
	 "inputs":[{"name":"indice","type":"uint256"}],
	 "outputs":[{"name":"","type":"string"},{"name":"","type":"uint256"}]}
]`

// Transaction parameters for registrarVotos.
var txParams = struct {
	GasLimit  uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
}{
	GasLimit:  300000,
	GasTipCap: big.NewInt(25_000_000_000),
	GasFeeCap: big.NewInt(50_000_000_000),
}

// ReceiptTimeout bounds how long a registration waits to be mined.
const ReceiptTimeout = 2 * time.Minute

var errReverted = errors.New("transaction reverted")

func init() {
	relay.Register("polygon", func(ctx context.Context, cfg relay.Config) (relay.Backend, error) {
		b, err := New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
}

// account is the signing identity parsed from configuration.
type account struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// Backend talks to the deployed voting contract.
type Backend struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	account  account
	chainID  *big.Int
}

// New dials the RPC endpoint and binds the contract.
func New(ctx context.Context, cfg relay.Config) (*Backend, error) {
	acct, contractAddr, err := parseConfig(cfg)
	if err != nil {
		return nil, err
	}

	parsed, err := parseABI()
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial polygon rpc: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}

	slog.Info("polygon ledger connected",
		"chain_id", chainID.String(),
		"contract", contractAddr.Hex(),
		"from", acct.address.Hex(),
	)

	return &Backend{
		client:   client,
		contract: bind.NewBoundContract(contractAddr, parsed, client, client, client),
		account:  acct,
		chainID:  chainID,
	}, nil
}

func parseABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse contract abi: %w", err)
	}
	return parsed, nil
}

func parseConfig(cfg relay.Config) (account, common.Address, error) {
	if cfg.RPCURL == "" {
		return account{}, common.Address{}, errors.New("polygon rpc url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return account{}, common.Address{}, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return account{}, common.Address{}, fmt.Errorf("failed to decode private key: %w", err)
	}

	return account{key: key, address: crypto.PubkeyToAddress(key.PublicKey)},
		common.HexToAddress(cfg.ContractAddress), nil
}

// Close releases the RPC connection.
func (b *Backend) Close() error {
	b.client.Close()
	return nil
}

// RegisterVotes sends registrarVotos and waits for the receipt. A reverted or
// unmined transaction is reported as a write failure; the caller retries by
// recomputing the gap, so nothing is left half-applied on the ledger.
func (b *Backend) RegisterVotes(ctx context.Context, candidateID string, count int64) (string, error) {
	if count <= 0 {
		return "", relay.WriteFailed("rejected transaction", fmt.Errorf("count must be positive, got %d", count))
	}

	opts, err := bind.NewKeyedTransactorWithChainID(b.account.key, b.chainID)
	if err != nil {
		return "", relay.WriteFailed("build transactor", err)
	}
	opts.Context = ctx
	opts.GasLimit = txParams.GasLimit
	opts.GasTipCap = txParams.GasTipCap
	opts.GasFeeCap = txParams.GasFeeCap

	tx, err := b.contract.Transact(opts, methodRegister, candidateID, big.NewInt(count))
	if err != nil {
		return "", relay.WriteFailed("send transaction", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, ReceiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, b.client, tx)
	if err != nil {
		return "", relay.WriteFailed("wait for receipt "+tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", relay.WriteFailed("receipt "+tx.Hash().Hex(), errReverted)
	}

	return tx.Hash().Hex(), nil
}

func (b *Backend) callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Pending: true, Context: ctx, From: b.account.address}
}

func (b *Backend) TotalCandidates(ctx context.Context) (int64, error) {
	var out []interface{}
	if err := b.contract.Call(b.callOpts(ctx), &out, methodTotal); err != nil {
		return 0, fmt.Errorf("call %s: %w", methodTotal, err)
	}
	return decodeTotal(out)
}

func (b *Backend) Candidate(ctx context.Context, index int64) (string, int64, error) {
	var out []interface{}
	if err := b.contract.Call(b.callOpts(ctx), &out, methodCandidate, big.NewInt(index)); err != nil {
		return "", 0, fmt.Errorf("call %s(%d): %w", methodCandidate, index, err)
	}
	return decodeCandidate(out)
}

func (b *Backend) AllCandidates(ctx context.Context) ([]relay.Tally, error) {
	total, err := b.TotalCandidates(ctx)
	if err != nil {
		return nil, err
	}

	tallies := make([]relay.Tally, 0, total)
	for i := int64(0); i < total; i++ {
		id, votes, err := b.Candidate(ctx, i)
		if err != nil {
			return nil, err
		}
		tallies = append(tallies, relay.Tally{Index: i, CandidateID: id, Votes: votes})
	}
	return tallies, nil
}

func decodeTotal(out []interface{}) (int64, error) {
	if len(out) != 1 {
		return 0, fmt.Errorf("%s: expected 1 output, got %d", methodTotal, len(out))
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected output type %T", methodTotal, out[0])
	}
	if !n.IsInt64() {
		return 0, fmt.Errorf("%s: value %s overflows int64", methodTotal, n)
	}
	return n.Int64(), nil
}

func decodeCandidate(out []interface{}) (string, int64, error) {
	if len(out) != 2 {
		return "", 0, fmt.Errorf("%s: expected 2 outputs, got %d", methodCandidate, len(out))
	}
	id, ok := out[0].(string)
	if !ok {
		return "", 0, fmt.Errorf("%s: unexpected id type %T", methodCandidate, out[0])
	}
	votes, ok := out[1].(*big.Int)
	if !ok {
		return "", 0, fmt.Errorf("%s: unexpected votes type %T", methodCandidate, out[1])
	}
	if !votes.IsInt64() {
		return "", 0, fmt.Errorf("%s: votes %s overflow int64", methodCandidate, votes)
	}
	return id, votes.Int64(), nil
}

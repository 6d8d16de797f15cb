package indexer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// USDC settles with 6 decimals on every supported chain.
const usdcDecimals = 6

var (
	// keccak256("Transfer(address,address,uint256)"). ERC-20 and ERC-721
	// share the signature; the identity registry indexes all three args.
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	// EIP-3009 AuthorizationUsed(address indexed authorizer, bytes32 indexed nonce)
	authorizationUsedTopic = crypto.Keccak256Hash([]byte("AuthorizationUsed(address,bytes32)"))

	// Reputation registry NewFeedback(uint256 indexed agentId,
	// address indexed clientAddress, int128 value, uint8 valueDecimals,
	// string tag1, string tag2, string endpoint, string feedbackURI,
	// bytes32 contentHash)
	newFeedbackTopic = crypto.Keccak256Hash([]byte(
		"NewFeedback(uint256,address,int128,uint8,string,string,string,string,bytes32)"))

	zeroAddressTopic = common.Hash{}
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// Non-indexed payload of NewFeedback, in declaration order.
var feedbackArgs = abi.Arguments{
	{Name: "value", Type: mustABIType("int128")},
	{Name: "valueDecimals", Type: mustABIType("uint8")},
	{Name: "tag1", Type: mustABIType("string")},
	{Name: "tag2", Type: mustABIType("string")},
	{Name: "endpoint", Type: mustABIType("string")},
	{Name: "feedbackURI", Type: mustABIType("string")},
	{Name: "contentHash", Type: mustABIType("bytes32")},
}

type identityMint struct {
	Owner   common.Address
	TokenID *big.Int
}

// decodeIdentityMint decodes an ERC-721 Transfer from the zero address.
func decodeIdentityMint(lg types.Log) (*identityMint, error) {
	if len(lg.Topics) != 4 || lg.Topics[0] != transferTopic {
		return nil, fmt.Errorf("unexpected topic shape for identity mint (topics=%d)", len(lg.Topics))
	}
	if lg.Topics[1] != zeroAddressTopic {
		return nil, fmt.Errorf("transfer is not a mint (from != 0x0)")
	}
	return &identityMint{
		Owner:   common.BytesToAddress(lg.Topics[2].Bytes()),
		TokenID: new(big.Int).SetBytes(lg.Topics[3].Bytes()),
	}, nil
}

type feedbackEvent struct {
	AgentID       *big.Int
	ClientAddress common.Address
	Value         *big.Int
	ValueDecimals uint8
	Tag1          string
	Tag2          string
	Endpoint      string
	FeedbackURI   string
	ContentHash   [32]byte
}

// decodeFeedback decodes the full NewFeedback payload, including the
// variable-width tags and URI.
func decodeFeedback(lg types.Log) (*feedbackEvent, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != newFeedbackTopic {
		return nil, fmt.Errorf("unexpected topic shape for NewFeedback (topics=%d)", len(lg.Topics))
	}
	vals, err := feedbackArgs.Unpack(lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack NewFeedback data: %w", err)
	}
	if len(vals) != len(feedbackArgs) {
		return nil, fmt.Errorf("malformed NewFeedback payload (%d values)", len(vals))
	}

	return &feedbackEvent{
		AgentID:       new(big.Int).SetBytes(lg.Topics[1].Bytes()),
		ClientAddress: common.BytesToAddress(lg.Topics[2].Bytes()),
		Value:         vals[0].(*big.Int),
		ValueDecimals: vals[1].(uint8),
		Tag1:          vals[2].(string),
		Tag2:          vals[3].(string),
		Endpoint:      vals[4].(string),
		FeedbackURI:   vals[5].(string),
		ContentHash:   vals[6].([32]byte),
	}, nil
}

type usdcTransfer struct {
	Payer     common.Address
	Recipient common.Address
	AmountRaw *big.Int
}

// decodeUSDCTransfer decodes an ERC-20 Transfer log emitted by the USDC
// contract.
func decodeUSDCTransfer(lg types.Log) (*usdcTransfer, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
		return nil, fmt.Errorf("unexpected topic shape for ERC-20 transfer (topics=%d)", len(lg.Topics))
	}
	if len(lg.Data) < 32 {
		return nil, fmt.Errorf("short transfer data (%d bytes)", len(lg.Data))
	}
	return &usdcTransfer{
		Payer:     common.BytesToAddress(lg.Topics[1].Bytes()),
		Recipient: common.BytesToAddress(lg.Topics[2].Bytes()),
		AmountRaw: new(big.Int).SetBytes(lg.Data[:32]),
	}, nil
}

// authorizerOf extracts the authorizer from an AuthorizationUsed log.
func authorizerOf(lg types.Log) (common.Address, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != authorizationUsedTopic {
		return common.Address{}, fmt.Errorf("unexpected topic shape for AuthorizationUsed (topics=%d)", len(lg.Topics))
	}
	return common.BytesToAddress(lg.Topics[1].Bytes()), nil
}

// usdcAmount scales a raw transfer value to a 6-decimal USDC amount.
func usdcAmount(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -usdcDecimals)
}

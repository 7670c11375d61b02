package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replays across chains and deployments
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "HyperSwap")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local)
	VerifyingContract common.Address // Zero for off-chain signing
}

// RequestEIP712 is the typed data users sign for every exchange action.
// Fields an action does not use are left zero.
type RequestEIP712 struct {
	Action  string         // create_pair, add_liquidity, swap, ...
	PairID  *big.Int       // Target pair (0 for create_pair)
	OrderID *big.Int       // Target order for fill/cancel
	TokenA  common.Address // First token (create) or token in / offer token
	TokenB  common.Address // Second token (create only)
	AmountA *big.Int       // Primary amount
	AmountB *big.Int       // Secondary amount (second deposit, min out, desired)
	Nonce   *big.Int       // Strictly increasing per owner
	Owner   common.Address // Account acting
}

var requestTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Request": []apitypes.Type{
		{Name: "action", Type: "string"},
		{Name: "pairId", Type: "uint256"},
		{Name: "orderId", Type: "uint256"},
		{Name: "tokenA", Type: "address"},
		{Name: "tokenB", Type: "address"},
		{Name: "amountA", Type: "uint256"},
		{Name: "amountB", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
}

// EIP712Signer handles EIP-712 typed data signing for requests
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the local development domain
func DefaultDomain() EIP712Domain {
	return DomainForChain(1337)
}

func DomainForChain(chainID int64) EIP712Domain {
	return EIP712Domain{
		Name:              "HyperSwap",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: common.Address{},
	}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func orZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (r *RequestEIP712) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"action":  r.Action,
		"pairId":  orZero(r.PairID),
		"orderId": orZero(r.OrderID),
		"tokenA":  r.TokenA.Hex(),
		"tokenB":  r.TokenB.Hex(),
		"amountA": orZero(r.AmountA),
		"amountB": orZero(r.AmountB),
		"nonce":   orZero(r.Nonce),
		"owner":   r.Owner.Hex(),
	}
}

// HashRequest hashes a request according to EIP-712
// Returns the digest that should be signed
func (e *EIP712Signer) HashRequest(req *RequestEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       requestTypes,
		PrimaryType: "Request",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: req.message(),
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

func (e *EIP712Signer) SignRequest(signer *Signer, req *RequestEIP712) ([]byte, error) {
	hash, err := e.HashRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to hash request: %w", err)
	}

	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return signature, nil
}

// VerifyRequestSignature reports whether signature was produced by req.Owner
func (e *EIP712Signer) VerifyRequestSignature(req *RequestEIP712, signature []byte) (bool, error) {
	recovered, err := e.RecoverRequestSigner(req, signature)
	if err != nil {
		return false, err
	}
	return recovered == req.Owner, nil
}

func (e *EIP712Signer) RecoverRequestSigner(req *RequestEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashRequest(req)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash request: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// RequestToJSON renders the typed data in the eth_signTypedData_v4 format
// wallets expect
func (e *EIP712Signer) RequestToJSON(req *RequestEIP712) (string, error) {
	types := make(map[string][]map[string]string, len(requestTypes))
	for name, fields := range requestTypes {
		for _, f := range fields {
			types[name] = append(types[name], map[string]string{"name": f.Name, "type": f.Type})
		}
	}
	typedData := map[string]interface{}{
		"types":       types,
		"primaryType": "Request",
		"domain": map[string]interface{}{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": req.message(),
	}

	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}

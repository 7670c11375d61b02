package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// Verifier checks EIP-712 signatures on incoming requests
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify decodes tx and checks that its signature was made by the owner
// named in the request. Nonces are not checked here.
func (v *Verifier) Verify(tx *SignedTransaction) (*Request, error) {
	req, err := tx.Request.Decode()
	if err != nil {
		return nil, err
	}

	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}

	signer, err := v.eip712Signer.RecoverRequestSigner(req.ToEIP712(), sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if signer != req.Owner {
		return nil, fmt.Errorf("%w: signed by %s, owner %s", ErrBadSignature, signer.Hex(), req.Owner.Hex())
	}
	return req, nil
}

// RecoverSigner returns whoever signed tx, without comparing to the owner
func (v *Verifier) RecoverSigner(tx *SignedTransaction) (common.Address, error) {
	req, err := tx.Request.Decode()
	if err != nil {
		return common.Address{}, err
	}
	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return v.eip712Signer.RecoverRequestSigner(req.ToEIP712(), sig)
}

// Sign builds a signed transaction for req. Used by clients and tests.
func Sign(domain crypto.EIP712Domain, signer *crypto.Signer, req *Request) (*SignedTransaction, error) {
	req.Owner = signer.Address()
	sig, err := crypto.NewEIP712Signer(domain).SignRequest(signer, req.ToEIP712())
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{Request: req.Payload(), Signature: crypto.EncodeSignature(sig)}, nil
}

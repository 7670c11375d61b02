package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

type flags struct {
	key     string
	chainID int64
	action  string
	pairID  uint64
	orderID uint64
	tokenA  string
	tokenB  string
	amountA string
	amountB string
	nonce   uint64
	submit  string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "sign-request",
		Short: "Build and sign a HyperSwap request",
		Long: `Builds an EIP-712 request, signs it and prints the JSON body for
POST /api/v1/tx. Without --key a new keypair is generated.`,
		Example: `  sign-request --key $KEY --action swap --pair 1 --token-a 0x..aa --amount-a 1000 --amount-b 990 --nonce 3`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sign(cmd.OutOrStdout(), f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.key, "key", os.Getenv("HYPERSWAP_KEY"), "hex private key (default $HYPERSWAP_KEY)")
	fl.Int64Var(&f.chainID, "chain-id", 1337, "EIP-712 domain chain id")
	fl.StringVar(&f.action, "action", "", "create_pair, add_liquidity, remove_liquidity, swap, place_limit_order, fill_limit_order, cancel_limit_order or approve")
	fl.Uint64Var(&f.pairID, "pair", 0, "target pair id")
	fl.Uint64Var(&f.orderID, "order", 0, "target order id (fill/cancel)")
	fl.StringVar(&f.tokenA, "token-a", "", "first token, token in or offer token")
	fl.StringVar(&f.tokenB, "token-b", "", "second token (create_pair)")
	fl.StringVar(&f.amountA, "amount-a", "", "primary amount (decimal)")
	fl.StringVar(&f.amountB, "amount-b", "", "secondary amount (decimal)")
	fl.Uint64Var(&f.nonce, "nonce", 1, "request nonce, must exceed the last accepted one")
	fl.StringVar(&f.submit, "submit", "", "node URL to POST the request to, e.g. http://localhost:8080")
	cmd.MarkFlagRequired("action")

	cmd.AddCommand(keygenCmd())
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new secp256k1 keypair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Address: %s\n", signer.Address().Hex())
			fmt.Fprintf(out, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
			return nil
		},
	}
}

// buildRequest applies the same presence rules the node applies
func buildRequest(f flags, owner common.Address) (*transaction.Request, error) {
	payload := transaction.RequestPayload{
		Action:  transaction.Action(f.action),
		PairID:  f.pairID,
		OrderID: f.orderID,
		TokenA:  f.tokenA,
		TokenB:  f.tokenB,
		AmountA: f.amountA,
		AmountB: f.amountB,
		Nonce:   f.nonce,
		Owner:   owner.Hex(),
	}
	return payload.Decode()
}

func sign(out io.Writer, f flags) error {
	var (
		signer *crypto.Signer
		err    error
	)
	if f.key == "" {
		if signer, err = crypto.GenerateKey(); err != nil {
			return err
		}
		fmt.Fprintf(out, "Generated Address: %s\n", signer.Address().Hex())
		fmt.Fprintf(out, "Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())
	} else if signer, err = crypto.FromPrivateKeyHex(f.key); err != nil {
		return err
	}

	req, err := buildRequest(f, signer.Address())
	if err != nil {
		return err
	}
	domain := crypto.DomainForChain(f.chainID)
	tx, err := transaction.Sign(domain, signer, req)
	if err != nil {
		return err
	}

	// Round-trip through the verifier the node uses
	if _, err := transaction.NewVerifier(domain).Verify(tx); err != nil {
		return fmt.Errorf("self-verification failed: %w", err)
	}

	body, err := tx.Serialize()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(body))

	if f.submit == "" {
		return nil
	}
	return submit(out, strings.TrimRight(f.submit, "/")+"/api/v1/tx", body)
}

func submit(out io.Writer, url string, body []byte) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s\n%s\n", resp.Status, reply)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("node rejected request: %s", resp.Status)
	}
	return nil
}

package custody

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"

	"poolpilot/internal/chain"
	"poolpilot/internal/models"
	"poolpilot/internal/repository"
)

const (
	testSecretHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	// Well-known dev key, address 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266.
	testKeyHex     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testKeyAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

type walletRepo struct {
	repository.Repository
	wallets map[string]models.Wallet
}

func (r *walletRepo) GetWalletByID(ctx context.Context, id string) (*models.Wallet, error) {
	if w, ok := r.wallets[id]; ok {
		return &w, nil
	}
	return nil, nil
}

func newTestVault(t *testing.T) (*Vault, *walletRepo) {
	t.Helper()
	repo := &walletRepo{wallets: make(map[string]models.Wallet)}
	vault, err := NewVault(repo, testSecretHex)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return vault, repo
}

func TestNewVaultRejectsBadSecret(t *testing.T) {
	if _, err := NewVault(nil, "not-hex"); err == nil {
		t.Fatalf("expected error for non-hex secret")
	}
	if _, err := NewVault(nil, "abcd"); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	vault, _ := newTestVault(t)
	sealed, err := vault.Encrypt(testKeyHex)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if sealed == testKeyHex {
		t.Fatalf("ciphertext equals plaintext")
	}
	plain, err := vault.decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != testKeyHex {
		t.Fatalf("round trip = %q, want original key", plain)
	}
}

func TestSignerForSignsVerifiableTransaction(t *testing.T) {
	vault, repo := newTestVault(t)
	sealed, err := vault.Encrypt(testKeyHex)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	repo.wallets["wallet-1"] = models.Wallet{
		ID:           "wallet-1",
		UserID:       "user-1",
		Address:      strings.ToLower(testKeyAddress),
		EncryptedKey: sealed,
	}

	signer, err := vault.SignerFor(context.Background(), "wallet-1")
	if err != nil {
		t.Fatalf("signer for: %v", err)
	}
	if !strings.EqualFold(signer.Address(), testKeyAddress) {
		t.Fatalf("signer address = %s, want %s", signer.Address(), testKeyAddress)
	}

	raw, err := signer.SignPayload(context.Background(), &chain.TxPayload{
		ChainID:  360,
		Nonce:    7,
		To:       "0xaaaa000000000000000000000000000000000001",
		ValueWei: big.NewInt(1_000_000),
		GasLimit: 21000,
		GasPrice: big.NewInt(1_000_000_000),
	})
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		t.Fatalf("decode signed tx: %v", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(360)), &tx)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if !strings.EqualFold(from.Hex(), testKeyAddress) {
		t.Fatalf("recovered sender = %s, want %s", from.Hex(), testKeyAddress)
	}
	if tx.Nonce() != 7 {
		t.Fatalf("nonce = %d, want 7", tx.Nonce())
	}
}

func TestSignerForUnknownWallet(t *testing.T) {
	vault, _ := newTestVault(t)
	if _, err := vault.SignerFor(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown wallet")
	}
}

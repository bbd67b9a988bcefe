// Package custody holds wallet key material. Keys are stored AES-GCM
// encrypted in the wallets table and only ever decrypted in-process to
// produce a signature; the plaintext never leaves this package.
package custody

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"poolpilot/internal/chain"
	"poolpilot/internal/repository"
)

type Vault struct {
	repo   repository.Repository
	secret []byte
}

// NewVault expects secretHex to decode to a 32-byte AES-256 key.
func NewVault(repo repository.Repository, secretHex string) (*Vault, error) {
	secret, err := hex.DecodeString(strings.TrimPrefix(secretHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode custody secret: %w", err)
	}
	if len(secret) != 32 {
		return nil, fmt.Errorf("custody secret must be 32 bytes, got %d", len(secret))
	}
	return &Vault{repo: repo, secret: secret}, nil
}

// SignerFor loads the wallet and returns a signer bound to its key.
func (v *Vault) SignerFor(ctx context.Context, walletID string) (chain.TxSigner, error) {
	if v == nil {
		return nil, fmt.Errorf("custody vault not initialized")
	}
	wallet, err := v.repo.GetWalletByID(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", walletID, err)
	}
	if wallet == nil {
		return nil, fmt.Errorf("wallet %s not found", walletID)
	}
	keyHex, err := v.decrypt(wallet.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet %s key: %w", walletID, err)
	}
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet %s key: %w", walletID, err)
	}
	return &walletSigner{priv: priv, address: crypto.PubkeyToAddress(priv.PublicKey)}, nil
}

// decrypt reverses Encrypt: base64(nonce || ciphertext) under AES-256-GCM.
func (v *Vault) decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(v.secret)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plain), nil
}

// Encrypt seals a private key hex for storage. Exposed for wallet
// provisioning tooling; the running service only decrypts.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.secret)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

type walletSigner struct {
	priv    *ecdsa.PrivateKey
	address ethcommon.Address
}

func (s *walletSigner) Address() string {
	return s.address.Hex()
}

func (s *walletSigner) SignPayload(_ context.Context, payload *chain.TxPayload) ([]byte, error) {
	if payload == nil {
		return nil, fmt.Errorf("nil payload")
	}
	to := ethcommon.HexToAddress(payload.To)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    payload.Nonce,
		To:       &to,
		Value:    payload.ValueWei,
		Gas:      payload.GasLimit,
		GasPrice: payload.GasPrice,
		Data:     payload.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(payload.ChainID)), s.priv)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed.MarshalBinary()
}

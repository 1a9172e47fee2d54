package wallet

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// unsignedTx builds a transfer from `from` paid by `payer`, encoded the way the
// swap API returns it: zeroed signature slots for every required signer.
func unsignedTx(t *testing.T, payer, from solana.PublicKey) string {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, from, solana.SystemProgramID).Build()},
		solana.Hash{},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func decode(t *testing.T, b64 string) *solana.Transaction {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	require.NoError(t, err)
	return tx
}

func TestNewWallet(t *testing.T) {
	key := newKey(t)
	w, err := NewWallet(key.String())
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey().String(), w.Address())
	assert.Equal(t, w.Address(), w.String())

	_, err = NewWallet("not-base58-!!")
	assert.Error(t, err)
}

func TestSignTransactionAsFeePayer(t *testing.T) {
	w := FromPrivateKey(newKey(t))

	signed, err := w.SignTransaction(context.Background(), unsignedTx(t, w.PublicKey, w.PublicKey))
	require.NoError(t, err)

	tx := decode(t, signed)
	require.Len(t, tx.Signatures, 1)
	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, tx.Signatures[0].Verify(w.PublicKey, msg))
}

func TestSignTransactionLeavesOtherSlots(t *testing.T) {
	w := FromPrivateKey(newKey(t))
	payer := newKey(t).PublicKey()

	signed, err := w.SignTransaction(context.Background(), unsignedTx(t, payer, w.PublicKey))
	require.NoError(t, err)

	tx := decode(t, signed)
	require.Len(t, tx.Signatures, 2)
	assert.Equal(t, solana.Signature{}, tx.Signatures[0], "fee payer slot stays empty")

	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, tx.Signatures[1].Verify(w.PublicKey, msg))
}

func TestSignTransactionRejectsForeignTransaction(t *testing.T) {
	w := FromPrivateKey(newKey(t))
	other := newKey(t).PublicKey()

	_, err := w.SignTransaction(context.Background(), unsignedTx(t, other, other))
	assert.ErrorIs(t, err, ErrNotSigner)
}

func TestSignTransactionRejectsGarbage(t *testing.T) {
	w := FromPrivateKey(newKey(t))

	_, err := w.SignTransaction(context.Background(), "%%%")
	assert.Error(t, err)
	_, err = w.SignTransaction(context.Background(), base64.StdEncoding.EncodeToString([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestSignTransactionHonoursContext(t *testing.T) {
	w := FromPrivateKey(newKey(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.SignTransaction(ctx, unsignedTx(t, w.PublicKey, w.PublicKey))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadWallets(t *testing.T) {
	a, b := newKey(t), newKey(t)
	path := filepath.Join(t.TempDir(), "wallets.yaml")
	content := "wallets:\n" +
		"  - name: main\n    private_key: " + a.String() + "\n" +
		"  - name: second\n    private_key: " + b.String() + "\n" +
		"  - name: broken\n    private_key: xyz\n" +
		"  - name: \"\"\n    private_key: " + b.String() + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	wallets, err := LoadWallets(path)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, a.PublicKey(), wallets["main"].PublicKey)
	assert.Equal(t, b.PublicKey(), wallets["second"].PublicKey)
}

func TestLoadWalletsErrors(t *testing.T) {
	_, err := LoadWallets(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("wallets: []\n"), 0o600))
	_, err = LoadWallets(empty)
	assert.Error(t, err)
}

func TestGetATAIsCached(t *testing.T) {
	w := FromPrivateKey(newKey(t))
	mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	first, err := w.GetATA(mint)
	require.NoError(t, err)
	second, err := w.GetATA(mint)
	require.NoError(t, err)

	want, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	require.NoError(t, err)
	assert.Equal(t, want, first)
	assert.Equal(t, first, second)
}

package stellar

import (
	"context"
	"errors"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestPayment(t *testing.T, source string) *txnbuild.Transaction {
	t.Helper()

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{AccountID: source, Sequence: 1},
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: keypair.MustRandom().Address(),
				Amount:      "1",
				Asset:       txnbuild.NativeAsset{},
			},
		},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewInfiniteTimeout()},
	})
	require.NoError(t, err)
	return tx
}

func requireSignedBy(t *testing.T, tx *txnbuild.Transaction, kp *keypair.Full) {
	t.Helper()

	hash, err := tx.Hash(network.TestNetworkPassphrase)
	require.NoError(t, err)
	require.Len(t, tx.Signatures(), 1)
	assert.NoError(t, kp.Verify(hash[:], tx.Signatures()[0].Signature))
}

func TestNewLocalSigner(t *testing.T) {
	t.Parallel()

	kp := keypair.MustRandom()
	signer, err := NewLocalSigner(kp.Seed())
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), signer.PublicKey())

	tx := buildTestPayment(t, kp.Address())
	signed, err := signer.SignTransaction(context.Background(), tx, network.TestNetworkPassphrase)
	require.NoError(t, err)
	requireSignedBy(t, signed, kp)
}

func TestNewLocalSignerRejectsBadSeeds(t *testing.T) {
	t.Parallel()

	for _, seed := range []string{"", "not-a-seed", keypair.MustRandom().Address()} {
		_, err := NewLocalSigner(seed)
		assert.Error(t, err, "seed %q", seed)
	}
}

func TestNewClientSignerValidation(t *testing.T) {
	t.Parallel()

	signFunc := func(_ context.Context, tx *txnbuild.Transaction, _ string) (*txnbuild.Transaction, error) {
		return tx, nil
	}

	_, err := NewClientSigner("not-a-key", signFunc)
	assert.Error(t, err)

	_, err = NewClientSigner(keypair.MustRandom().Address(), nil)
	assert.Error(t, err)

	address := keypair.MustRandom().Address()
	signer, err := NewClientSigner(address, signFunc)
	require.NoError(t, err)
	assert.Equal(t, address, signer.PublicKey())
}

func TestClientSignerForwardsPassphrase(t *testing.T) {
	t.Parallel()

	kp := keypair.MustRandom()
	var gotPassphrase string
	signer, err := NewClientSigner(kp.Address(), func(_ context.Context, tx *txnbuild.Transaction, passphrase string) (*txnbuild.Transaction, error) {
		gotPassphrase = passphrase
		return tx.Sign(passphrase, kp)
	})
	require.NoError(t, err)

	tx := buildTestPayment(t, kp.Address())
	signed, err := signer.SignTransaction(context.Background(), tx, network.TestNetworkPassphrase)
	require.NoError(t, err)
	assert.Equal(t, network.TestNetworkPassphrase, gotPassphrase)
	requireSignedBy(t, signed, kp)
}

func TestNewWalletSignerValidation(t *testing.T) {
	t.Parallel()

	request := func(_ context.Context, unsignedXDR, _ string) (string, error) {
		return unsignedXDR, nil
	}

	_, err := NewWalletSigner("not-a-key", request)
	assert.Error(t, err)

	_, err = NewWalletSigner(keypair.MustRandom().Address(), nil)
	assert.Error(t, err)
}

func TestWalletSignerRoundTrip(t *testing.T) {
	t.Parallel()

	kp := keypair.MustRandom()
	signer, err := NewWalletSigner(kp.Address(), func(_ context.Context, unsignedXDR, passphrase string) (string, error) {
		generic, err := txnbuild.TransactionFromXDR(unsignedXDR)
		if err != nil {
			return "", err
		}
		unsigned, ok := generic.Transaction()
		if !ok {
			return "", errors.New("expected a plain envelope")
		}
		signed, err := unsigned.Sign(passphrase, kp)
		if err != nil {
			return "", err
		}
		return signed.Base64()
	})
	require.NoError(t, err)

	tx := buildTestPayment(t, kp.Address())
	signed, err := signer.SignTransaction(context.Background(), tx, network.TestNetworkPassphrase)
	require.NoError(t, err)
	requireSignedBy(t, signed, kp)
}

func TestWalletSignerSurfacesCancellation(t *testing.T) {
	t.Parallel()

	kp := keypair.MustRandom()
	signer, err := NewWalletSigner(kp.Address(), func(context.Context, string, string) (string, error) {
		return "", ErrSigningCancelled
	})
	require.NoError(t, err)

	tx := buildTestPayment(t, kp.Address())
	_, err = signer.SignTransaction(context.Background(), tx, network.TestNetworkPassphrase)
	assert.ErrorIs(t, err, ErrSigningCancelled)
}

func TestWalletSignerRejectsMalformedEnvelope(t *testing.T) {
	t.Parallel()

	kp := keypair.MustRandom()
	signer, err := NewWalletSigner(kp.Address(), func(context.Context, string, string) (string, error) {
		return "bm90LXhkcg==", nil
	})
	require.NoError(t, err)

	tx := buildTestPayment(t, kp.Address())
	_, err = signer.SignTransaction(context.Background(), tx, network.TestNetworkPassphrase)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed envelope")
}

func TestWalletSignerRejectsFeeBumpEnvelope(t *testing.T) {
	t.Parallel()

	kp := keypair.MustRandom()
	sponsor := keypair.MustRandom()

	signer, err := NewWalletSigner(kp.Address(), func(_ context.Context, unsignedXDR, passphrase string) (string, error) {
		generic, err := txnbuild.TransactionFromXDR(unsignedXDR)
		if err != nil {
			return "", err
		}
		inner, _ := generic.Transaction()
		signed, err := inner.Sign(passphrase, kp)
		if err != nil {
			return "", err
		}
		bump, err := txnbuild.NewFeeBumpTransaction(txnbuild.FeeBumpTransactionParams{
			Inner:      signed,
			FeeAccount: sponsor.Address(),
			BaseFee:    2 * txnbuild.MinBaseFee,
		})
		if err != nil {
			return "", err
		}
		return bump.Base64()
	})
	require.NoError(t, err)

	tx := buildTestPayment(t, kp.Address())
	_, err = signer.SignTransaction(context.Background(), tx, network.TestNetworkPassphrase)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee-bump")
}

func TestNewFeeSponsor(t *testing.T) {
	t.Parallel()

	kp := keypair.MustRandom()
	sponsor, err := NewFeeSponsor(kp.Seed())
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), sponsor.PublicKey())

	_, err = NewFeeSponsor("not-a-seed")
	assert.Error(t, err)
}

func TestFeeSponsorSignsFeeBump(t *testing.T) {
	t.Parallel()

	payer := keypair.MustRandom()
	sponsorKP := keypair.MustRandom()
	sponsor, err := NewFeeSponsor(sponsorKP.Seed())
	require.NoError(t, err)

	inner, err := buildTestPayment(t, payer.Address()).Sign(network.TestNetworkPassphrase, payer)
	require.NoError(t, err)

	bump, err := txnbuild.NewFeeBumpTransaction(txnbuild.FeeBumpTransactionParams{
		Inner:      inner,
		FeeAccount: sponsorKP.Address(),
		BaseFee:    2 * txnbuild.MinBaseFee,
	})
	require.NoError(t, err)

	signed, err := sponsor.SignFeeBump(context.Background(), bump, network.TestNetworkPassphrase)
	require.NoError(t, err)

	hash, err := signed.Hash(network.TestNetworkPassphrase)
	require.NoError(t, err)
	require.Len(t, signed.Signatures(), 1)
	assert.NoError(t, sponsorKP.Verify(hash[:], signed.Signatures()[0].Signature))

	// Payer signatures on the inner envelope survive the bump untouched.
	require.Len(t, signed.InnerTransaction().Signatures(), 1)
}

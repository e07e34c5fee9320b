package envelope

import (
	stded25519 "crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmtp-go/libxmtp-core/crypto"
)

func fixedSeed(b byte) (seed [32]byte) {
	seed[0] = b
	return seed
}

func keypairFromSeed(seed [32]byte) (private [32]byte, public [32]byte) {
	priv := stded25519.NewKeyFromSeed(seed[:])
	pub := priv.Public().(stded25519.PublicKey)
	var out [32]byte
	copy(out[:], pub)
	return seed, out
}

func TestWrapClientVerifyPayerUnwrapRoundTrip(t *testing.T) {
	private, public := keypairFromSeed(fixedSeed(1))
	e := ClientEnvelope{
		AAD:     AuthenticatedData{TargetOriginator: 1, TargetTopic: []byte("topic")},
		Kind:    PayloadGroupMessage,
		Payload: []byte("payload bytes"),
	}

	pe, err := WrapClient(e, private, 1, 30)
	require.NoError(t, err)

	ok, err := VerifyPayer(pe, public)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := UnwrapClient(pe)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestVerifyPayerRejectsWrongKey(t *testing.T) {
	private, _ := keypairFromSeed(fixedSeed(1))
	_, wrongPublic := keypairFromSeed(fixedSeed(2))
	e := ClientEnvelope{AAD: AuthenticatedData{TargetOriginator: 1}, Kind: PayloadGroupMessage, Payload: []byte("x")}

	pe, err := WrapClient(e, private, 1, 30)
	require.NoError(t, err)

	ok, err := VerifyPayer(pe, wrongPublic)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPayerRejectsTamperedSignature(t *testing.T) {
	private, public := keypairFromSeed(fixedSeed(1))
	e := ClientEnvelope{AAD: AuthenticatedData{TargetOriginator: 1}, Kind: PayloadGroupMessage, Payload: []byte("x")}

	pe, err := WrapClient(e, private, 1, 30)
	require.NoError(t, err)
	pe.PayerSignature[0] ^= 0xFF

	ok, err := VerifyPayer(pe, public)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPayerRejectsWrongSignatureLength(t *testing.T) {
	pe := &PayerEnvelope{UnsignedClientEnvelope: []byte("x"), PayerSignature: []byte("too-short")}
	_, public := keypairFromSeed(fixedSeed(1))

	_, err := VerifyPayer(pe, public)
	assert.Error(t, err)
}

func TestVerifyOriginatorSignatureProof(t *testing.T) {
	private, public := keypairFromSeed(fixedSeed(3))
	unsigned := EncodeUnsignedOriginatorEnvelope(UnsignedOriginatorEnvelope{
		OriginatorNodeID:     5,
		OriginatorSequenceID: 1,
	})
	sig, err := crypto.Sign(unsigned, private)
	require.NoError(t, err)

	oe := &OriginatorEnvelope{
		UnsignedOriginatorEnvelope: unsigned,
		Proof:                      Proof{Kind: ProofOriginatorSignature, Signature: sig[:]},
	}

	ok, err := VerifyOriginator(oe, public)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyOriginatorSignatureProofRejectsTampering(t *testing.T) {
	private, public := keypairFromSeed(fixedSeed(3))
	unsigned := EncodeUnsignedOriginatorEnvelope(UnsignedOriginatorEnvelope{OriginatorNodeID: 5, OriginatorSequenceID: 1})
	sig, err := crypto.Sign(unsigned, private)
	require.NoError(t, err)

	oe := &OriginatorEnvelope{
		UnsignedOriginatorEnvelope: append(unsigned, 0x01),
		Proof:                      Proof{Kind: ProofOriginatorSignature, Signature: sig[:]},
	}

	ok, err := VerifyOriginator(oe, public)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyOriginatorBlockchainProofRequiresChainRef(t *testing.T) {
	oe := &OriginatorEnvelope{Proof: Proof{Kind: ProofBlockchain, ChainRef: []byte("0xabc")}}
	ok, err := VerifyOriginator(oe, [32]byte{})
	require.NoError(t, err)
	assert.True(t, ok)

	oe.Proof.ChainRef = nil
	ok, err = VerifyOriginator(oe, [32]byte{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyOriginatorRejectsUnknownProofKind(t *testing.T) {
	oe := &OriginatorEnvelope{Proof: Proof{Kind: ProofKind(99)}}
	_, err := VerifyOriginator(oe, [32]byte{})
	assert.Error(t, err)
}

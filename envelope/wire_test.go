package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// §8 "Round-trip laws": encode then decode yields the original struct.
func TestClientEnvelopeRoundTrip(t *testing.T) {
	e := ClientEnvelope{
		AAD: AuthenticatedData{
			TargetOriginator: 3,
			TargetTopic:      []byte("topic-a"),
			IsCommit:         true,
		},
		Kind:    PayloadGroupMessage,
		Payload: []byte("hello world"),
	}

	got, err := DecodeClientEnvelope(EncodeClientEnvelope(e))
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestClientEnvelopeRoundTripWithDependsOnCursor(t *testing.T) {
	cur := NewCursor()
	cur.Advance(1, 10)
	cur.Advance(2, 20)
	e := ClientEnvelope{
		AAD: AuthenticatedData{
			TargetOriginator: 1,
			TargetTopic:      []byte("topic-b"),
			DependsOn:        cur,
			IsCommit:         false,
		},
		Kind:    PayloadWelcomeMessage,
		Payload: []byte("welcome"),
	}

	got, err := DecodeClientEnvelope(EncodeClientEnvelope(e))
	require.NoError(t, err)
	require.NotNil(t, got.AAD.DependsOn)
	assert.Equal(t, uint64(10), got.AAD.DependsOn.Position(1))
	assert.Equal(t, uint64(20), got.AAD.DependsOn.Position(2))
	assert.Equal(t, e.AAD.TargetTopic, got.AAD.TargetTopic)
	assert.Equal(t, e.Payload, got.Payload)
}

func TestClientEnvelopeRoundTripWithEmptyPayload(t *testing.T) {
	e := ClientEnvelope{AAD: AuthenticatedData{TargetOriginator: 0, TargetTopic: nil}, Kind: PayloadIdentityUpdate}
	got, err := DecodeClientEnvelope(EncodeClientEnvelope(e))
	require.NoError(t, err)
	assert.Equal(t, PayloadIdentityUpdate, got.Kind)
	assert.Empty(t, got.Payload)
}

func TestPayerEnvelopeRoundTrip(t *testing.T) {
	pe := PayerEnvelope{
		UnsignedClientEnvelope: []byte("unsigned-bytes"),
		PayerSignature:         []byte("sixty-four-byte-signature-placeholder-padded-out-to-length!!!!"),
		TargetOriginator:       4,
		MessageRetentionDays:   30,
	}

	got, err := DecodePayerEnvelope(EncodePayerEnvelope(pe))
	require.NoError(t, err)
	assert.Equal(t, pe, got)
}

func TestUnsignedOriginatorEnvelopeRoundTrip(t *testing.T) {
	u := UnsignedOriginatorEnvelope{
		OriginatorNodeID:         7,
		OriginatorSequenceID:     99,
		OriginatorNs:             1234567890,
		PayerEnvelopeBytes:       []byte("payer-envelope-bytes"),
		BaseFeePicodollars:       100,
		CongestionFeePicodollars: 50,
		ExpiryUnixtime:           1999999999,
	}

	got, err := DecodeUnsignedOriginatorEnvelope(EncodeUnsignedOriginatorEnvelope(u))
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestDecodeClientEnvelopeSkipsUnknownFields(t *testing.T) {
	e := ClientEnvelope{AAD: AuthenticatedData{TargetOriginator: 2}, Kind: PayloadPayerReport, Payload: []byte("x")}
	encoded := EncodeClientEnvelope(e)

	// Append a field number the decoder doesn't recognize; it must be
	// skipped rather than aborting the decode.
	extra := append([]byte(nil), encoded...)
	extra = append(extra, 0x50, 0x01) // field 10, varint type, value 1

	got, err := DecodeClientEnvelope(extra)
	require.NoError(t, err)
	assert.Equal(t, e.Kind, got.Kind)
	assert.Equal(t, e.Payload, got.Payload)
}

func TestLengthPrefixRoundTrip(t *testing.T) {
	data := []byte("a frame of bytes")
	framed := LengthPrefix(data)

	frame, rest, err := ReadLengthPrefixed(framed)
	require.NoError(t, err)
	assert.Equal(t, data, frame)
	assert.Empty(t, rest)
}

func TestLengthPrefixConcatenatedFrames(t *testing.T) {
	buf := append(LengthPrefix([]byte("first")), LengthPrefix([]byte("second"))...)

	first, rest, err := ReadLengthPrefixed(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), first)

	second, rest, err := ReadLengthPrefixed(rest)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), second)
	assert.Empty(t, rest)
}

func TestReadLengthPrefixedRejectsShortBuffer(t *testing.T) {
	_, _, err := ReadLengthPrefixed([]byte{0, 0})
	assert.Error(t, err)
}

func TestReadLengthPrefixedRejectsTruncatedFrame(t *testing.T) {
	buf := LengthPrefix([]byte("hello"))
	_, _, err := ReadLengthPrefixed(buf[:len(buf)-2])
	assert.Error(t, err)
}

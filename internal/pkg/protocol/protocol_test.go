package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		typ     Type
		payload []byte
	}{
		{"empty message", TypeMessage, nil},
		{"set id", TypeSetID, []byte("alice")},
		{"join room decimal", TypeJoinRoom, []byte("1")},
		{"server notice", TypeServerNotice, []byte("welcome, alice")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WritePacket(&buf, ReqMagic, tc.typ, tc.payload))

			pkt, err := ReadPacket(&buf, ReqMagic)
			require.NoError(t, err)
			assert.Equal(t, tc.typ, pkt.Type)
			assert.Equal(t, tc.payload, pkt.Payload)
		})
	}
}

func TestReadPacketBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, RespMagic, TypeMessage, []byte("hi")))

	_, err := ReadPacket(&buf, ReqMagic)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestReadPacketOversizeLength(t *testing.T) {
	hdr := []byte{0x5a, 0x5a, byte(TypeMessage), 0xff, 0xff}
	buf := bytes.NewBuffer(hdr)
	buf.Write(make([]byte, 10))

	_, err := ReadPacket(buf, ReqMagic)
	assert.ErrorIs(t, err, ErrOversizeLength)
}

func TestReadPacketFlippedBitFailsChecksum(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, ReqMagic, TypeMessage, []byte("hello")))

	raw := buf.Bytes()
	raw[len(raw)-2] ^= 0x01 // flip a payload bit, leave checksum alone

	_, err := ReadPacket(bytes.NewReader(raw), ReqMagic)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecodeRoomIDAcceptsBothEncodings(t *testing.T) {
	id, err := DecodeRoomID([]byte("42"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	id, err = DecodeRoomID([]byte{0x00, 0x00, 0x00, 0x2a})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	_, err = DecodeRoomID([]byte(""))
	assert.Error(t, err)
}

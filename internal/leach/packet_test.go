package leach

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func randomAddr(t *rapid.T, label string) netip.Addr {
	a := rapid.Uint32().Draw(t, label)
	return netip.AddrFrom4([4]byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)})
}

func TestEncodeDecodeAD_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := ADPacket{
			Origin:      randomAddr(t, "origin"),
			OriginSeqNo: rapid.Uint32().Draw(t, "seq"),
			PositionXMM: rapid.Uint32().Draw(t, "x"),
			PositionYMM: rapid.Uint32().Draw(t, "y"),
		}
		got, err := DecodeAD(EncodeAD(p))
		require.NoError(t, err)
		require.Equal(t, p, got)
	})
}

func TestEncodeDecodeADRep_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := ADRepPacket{
			Origin:      randomAddr(t, "origin"),
			Destination: randomAddr(t, "dest"),
		}
		got, err := DecodeADRep(EncodeADRep(p))
		require.NoError(t, err)
		require.Equal(t, p, got)
	})
}

func TestEncodeDecodeTT_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := TTPacket{
			Origin:       randomAddr(t, "origin"),
			Destination:  randomAddr(t, "dest"),
			SlotStartMS:  rapid.Uint32().Draw(t, "start"),
			SlotDuration: rapid.Uint32().Draw(t, "dur"),
		}
		got, err := DecodeTT(EncodeTT(p))
		require.NoError(t, err)
		require.Equal(t, p, got)
	})
}

func TestEncodeDecodeMSG_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := MSGPacket{
			Origin:      randomAddr(t, "origin"),
			OriginSeqNo: rapid.Uint32().Draw(t, "seq"),
		}
		got, err := DecodeMSG(EncodeMSG(p))
		require.NoError(t, err)
		require.Equal(t, p, got)
	})
}

func TestPeekKind(t *testing.T) {
	buf := EncodeAD(ADPacket{Origin: netip.MustParseAddr("10.0.0.1")})
	k, err := PeekKind(buf)
	require.NoError(t, err)
	require.Equal(t, KindAD, k)

	_, err = PeekKind(nil)
	require.ErrorIs(t, err, ErrShortPacket)
}

func TestDecodeAD_WrongKind(t *testing.T) {
	buf := EncodeMSG(MSGPacket{Origin: netip.MustParseAddr("10.0.0.1")})
	_, err := DecodeAD(buf)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeAD_TooShort(t *testing.T) {
	buf := EncodeAD(ADPacket{Origin: netip.MustParseAddr("10.0.0.1")})
	_, err := DecodeAD(buf[:len(buf)-1])
	require.ErrorIs(t, err, ErrShortPacket)
}

func TestDecodeAD_TrailingBytes(t *testing.T) {
	buf := EncodeAD(ADPacket{Origin: netip.MustParseAddr("10.0.0.1")})
	buf = append(buf, 0x00)
	_, err := DecodeAD(buf)
	require.ErrorIs(t, err, ErrTrailingBytes)
}

func TestCoordRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		metres := rapid.Float64Range(0, 10000).Draw(t, "metres")
		got := DecodeCoord(EncodeCoord(metres))
		require.InDelta(t, metres, got, 1.0/coordScale)
	})
}

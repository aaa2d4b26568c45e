package leach

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// -------------------------------------------------------------------------
// Wire format constants
// -------------------------------------------------------------------------

// Kind discriminates the four control packet formats carried over
// UDP/501. It is the first byte of every wire packet.
type Kind uint8

const (
	KindInvalid Kind = iota
	// KindAD is the cluster-head advertisement broadcast at the start
	// of SETUP_ADVERTISE.
	KindAD
	// KindADRep is a member's join reply, unicast to its chosen
	// cluster-head when the SETUP_ADVERTISE window closes.
	KindADRep
	// KindTT is a cluster-head's TDMA slot assignment, unicast to each
	// member of its roster when the SETUP_REPLY window closes.
	KindTT
	// KindMSG is a steady-state sensor reading, unicast toward the
	// sink (directly, or via a cluster-head).
	KindMSG
)

func (k Kind) String() string {
	switch k {
	case KindAD:
		return "AD"
	case KindADRep:
		return "AD_REP"
	case KindTT:
		return "TT"
	case KindMSG:
		return "MSG"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

const (
	// headerSize is the one-byte Kind discriminator prefixing every
	// control packet.
	headerSize = 1

	// reservedSize is the three zero-valued alignment bytes every
	// payload begins with, carried over unchanged from the original
	// header layout.
	reservedSize = 3

	// addrSize is the encoded width of an IPv4 address field.
	addrSize = 4

	// coordScale converts a float64 metre coordinate to the wire's
	// fixed-point millimetre representation and back. Positions in
	// this simulator are small (tens to low hundreds of metres), so a
	// uint32 millimetre value never overflows in practice.
	coordScale = 1000.0

	adPayloadSize    = reservedSize + addrSize + 4 + 4 + 4 // reserved + origin + seq + x + y
	adRepPayloadSize = reservedSize + addrSize + addrSize  // reserved + origin + dest
	ttPayloadSize    = reservedSize + addrSize + addrSize + 4 + 4
	msgPayloadSize   = reservedSize + addrSize + 4

	// MaxPacketSize bounds every encoded control packet; it is the
	// largest of header+payload across the four kinds (AD and TT are
	// tied at 19 bytes of payload).
	MaxPacketSize = headerSize + adPayloadSize
)

// -------------------------------------------------------------------------
// Packet structs
// -------------------------------------------------------------------------

// ADPacket is the cluster-head advertisement broadcast during
// SETUP_ADVERTISE. Members use Origin and Position to compute the
// squared distance to every candidate head and keep the nearest.
type ADPacket struct {
	Origin       netip.Addr
	OriginSeqNo  uint32
	PositionXMM  uint32 // millimetre fixed-point X, see EncodeCoord
	PositionYMM  uint32
}

// ADRepPacket is a member's join reply, unicast to the cluster-head it
// selected as nearest.
type ADRepPacket struct {
	Origin      netip.Addr // the member joining
	Destination netip.Addr // the cluster-head being joined
}

// TTPacket is a cluster-head's TDMA slot assignment to one member of
// its roster.
type TTPacket struct {
	Origin       netip.Addr // the cluster-head assigning the slot
	Destination  netip.Addr // the member receiving the slot
	SlotStartMS  uint32     // offset from the TT's send time (end of the reply window), milliseconds
	SlotDuration uint32     // milliseconds
}

// MSGPacket carries a steady-state sensor reading toward the sink.
type MSGPacket struct {
	Origin      netip.Addr // the node that generated the reading
	OriginSeqNo uint32
}

// -------------------------------------------------------------------------
// Encode
// -------------------------------------------------------------------------

// EncodeAD serializes an ADPacket to wire format.
func EncodeAD(p ADPacket) []byte {
	buf := make([]byte, headerSize+adPayloadSize)
	buf[0] = byte(KindAD)
	off := headerSize + reservedSize
	putAddr(buf[off:], p.Origin)
	off += addrSize
	binary.BigEndian.PutUint32(buf[off:], p.OriginSeqNo)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], p.PositionXMM)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], p.PositionYMM)
	return buf
}

// EncodeADRep serializes an ADRepPacket to wire format.
func EncodeADRep(p ADRepPacket) []byte {
	buf := make([]byte, headerSize+adRepPayloadSize)
	buf[0] = byte(KindADRep)
	off := headerSize + reservedSize
	putAddr(buf[off:], p.Origin)
	off += addrSize
	putAddr(buf[off:], p.Destination)
	return buf
}

// EncodeTT serializes a TTPacket to wire format.
func EncodeTT(p TTPacket) []byte {
	buf := make([]byte, headerSize+ttPayloadSize)
	buf[0] = byte(KindTT)
	off := headerSize + reservedSize
	putAddr(buf[off:], p.Origin)
	off += addrSize
	putAddr(buf[off:], p.Destination)
	off += addrSize
	binary.LittleEndian.PutUint32(buf[off:], p.SlotStartMS)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], p.SlotDuration)
	return buf
}

// EncodeMSG serializes an MSGPacket to wire format.
func EncodeMSG(p MSGPacket) []byte {
	buf := make([]byte, headerSize+msgPayloadSize)
	buf[0] = byte(KindMSG)
	off := headerSize + reservedSize
	putAddr(buf[off:], p.Origin)
	off += addrSize
	binary.BigEndian.PutUint32(buf[off:], p.OriginSeqNo)
	return buf
}

func putAddr(buf []byte, addr netip.Addr) {
	a4 := addr.As4()
	copy(buf[:addrSize], a4[:])
}

func getAddr(buf []byte) netip.Addr {
	var a4 [4]byte
	copy(a4[:], buf[:addrSize])
	return netip.AddrFrom4(a4)
}

// -------------------------------------------------------------------------
// Decode
// -------------------------------------------------------------------------

// PeekKind reads the discriminator byte without validating the rest
// of the buffer. Callers use it to dispatch to the matching Decode*
// function.
func PeekKind(buf []byte) (Kind, error) {
	if len(buf) < headerSize {
		return KindInvalid, fmt.Errorf("peek kind: %w", ErrShortPacket)
	}
	return Kind(buf[0]), nil
}

// DecodeAD parses an ADPacket from wire format.
func DecodeAD(buf []byte) (ADPacket, error) {
	var p ADPacket
	if err := checkFrame(buf, KindAD, adPayloadSize); err != nil {
		return p, err
	}
	off := headerSize + reservedSize
	p.Origin = getAddr(buf[off:])
	off += addrSize
	p.OriginSeqNo = binary.BigEndian.Uint32(buf[off:])
	off += 4
	p.PositionXMM = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	p.PositionYMM = binary.LittleEndian.Uint32(buf[off:])
	return p, nil
}

// DecodeADRep parses an ADRepPacket from wire format.
func DecodeADRep(buf []byte) (ADRepPacket, error) {
	var p ADRepPacket
	if err := checkFrame(buf, KindADRep, adRepPayloadSize); err != nil {
		return p, err
	}
	off := headerSize + reservedSize
	p.Origin = getAddr(buf[off:])
	off += addrSize
	p.Destination = getAddr(buf[off:])
	return p, nil
}

// DecodeTT parses a TTPacket from wire format.
func DecodeTT(buf []byte) (TTPacket, error) {
	var p TTPacket
	if err := checkFrame(buf, KindTT, ttPayloadSize); err != nil {
		return p, err
	}
	off := headerSize + reservedSize
	p.Origin = getAddr(buf[off:])
	off += addrSize
	p.Destination = getAddr(buf[off:])
	off += addrSize
	p.SlotStartMS = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	p.SlotDuration = binary.LittleEndian.Uint32(buf[off:])
	return p, nil
}

// DecodeMSG parses an MSGPacket from wire format.
func DecodeMSG(buf []byte) (MSGPacket, error) {
	var p MSGPacket
	if err := checkFrame(buf, KindMSG, msgPayloadSize); err != nil {
		return p, err
	}
	off := headerSize + reservedSize
	p.Origin = getAddr(buf[off:])
	off += addrSize
	p.OriginSeqNo = binary.BigEndian.Uint32(buf[off:])
	return p, nil
}

func checkFrame(buf []byte, want Kind, payloadSize int) error {
	if len(buf) < headerSize {
		return fmt.Errorf("decode %s: %w", want, ErrShortPacket)
	}
	if Kind(buf[0]) != want {
		return fmt.Errorf("decode: got kind %s, want %s: %w", Kind(buf[0]), want, ErrUnknownKind)
	}
	if len(buf) < headerSize+payloadSize {
		return fmt.Errorf("decode %s: %w", want, ErrShortPacket)
	}
	if len(buf) > headerSize+payloadSize {
		return fmt.Errorf("decode %s: %w", want, ErrTrailingBytes)
	}
	return nil
}

// -------------------------------------------------------------------------
// Position <-> wire fixed point
// -------------------------------------------------------------------------

// EncodeCoord converts a metre-scale coordinate to its millimetre
// fixed-point wire representation. Negative coordinates are not
// representable and are clamped to zero; the simulated deployment
// area is non-negative in both axes.
func EncodeCoord(metres float64) uint32 {
	if metres < 0 {
		metres = 0
	}
	return uint32(metres * coordScale)
}

// DecodeCoord converts a millimetre fixed-point wire value back to
// metres.
func DecodeCoord(mm uint32) float64 {
	return float64(mm) / coordScale
}

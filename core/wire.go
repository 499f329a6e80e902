package core

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketKind discriminates the three variants carried by the TCP socket's
// wire packet (§4.D). Every packet is length-prefixed and carries an
// explicit discriminant byte, so no field is ever optional without one —
// the same shape as the teacher's msgType+payload framing in
// core/replication.go, generalized from a JSON body to this protocol's
// Hello/KeepAlive/Frame variants.
type PacketKind byte

const (
	PacketHello PacketKind = iota + 1
	PacketKeepAlive
	PacketFrame
)

// Packet is the decoded form of one wire message.
type Packet struct {
	Kind PacketKind
	Port uint16 // Hello only
	Data []byte // Frame only
}

// HelloPacket announces the sender's local listen port immediately after
// connecting.
func HelloPacket(port uint16) Packet { return Packet{Kind: PacketHello, Port: port} }

// KeepAlivePacket is sent after 10s of link silence.
func KeepAlivePacket() Packet { return Packet{Kind: PacketKeepAlive} }

// FramePacket carries an opaque application frame.
func FramePacket(data []byte) Packet { return Packet{Kind: PacketFrame, Data: data} }

const maxPacketSize = 64 << 20 // 64 MiB, a generous ceiling against a corrupt length prefix

// WritePacket encodes p as: 4-byte big-endian length, 1-byte kind, payload.
func WritePacket(w io.Writer, p Packet) error {
	var payload []byte
	switch p.Kind {
	case PacketHello:
		payload = make([]byte, 2)
		binary.BigEndian.PutUint16(payload, p.Port)
	case PacketKeepAlive:
		payload = nil
	case PacketFrame:
		payload = p.Data
	default:
		return fmt.Errorf("wire: unknown packet kind %d", p.Kind)
	}

	length := uint32(1 + len(payload))
	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], length)
	header[4] = byte(p.Kind)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadPacket decodes one packet previously written by WritePacket.
func ReadPacket(r io.Reader) (Packet, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Packet{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return Packet{}, fmt.Errorf("wire: empty packet")
	}
	if length > maxPacketSize {
		return Packet{}, fmt.Errorf("wire: packet too large (%d bytes)", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Packet{}, err
	}

	kind := PacketKind(body[0])
	payload := body[1:]
	switch kind {
	case PacketHello:
		if len(payload) != 2 {
			return Packet{}, fmt.Errorf("wire: malformed Hello payload")
		}
		return Packet{Kind: PacketHello, Port: binary.BigEndian.Uint16(payload)}, nil
	case PacketKeepAlive:
		return Packet{Kind: PacketKeepAlive}, nil
	case PacketFrame:
		return Packet{Kind: PacketFrame, Data: payload}, nil
	default:
		return Packet{}, fmt.Errorf("wire: unknown packet kind %d", kind)
	}
}

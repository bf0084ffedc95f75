package tsp

// TSP, a minimal time sync probe protocol between a server and a device.
// A query carries the server's monotonic send time; the reply echoes it and
// adds the device's own clock reading taken when the reply was built. Frames
// are fixed size, big endian, and fit in a single datagram; the same frames
// ride length prefixed on a reliable stream.

import (
	"encoding/binary"
	"errors"
)

const (
	// DevicePort is the port a device responder listens on by default.
	// StreamPort is its companion for the stream transport, kept separate
	// so that the QUIC listener and the datagram responder can share a host.
	DevicePort = 9757
	StreamPort = 9758

	Version = 1

	MsgTypeQuery = 0x01
	MsgTypeReply = 0x02

	headerLen = 4

	QueryLen = headerLen + 8
	ReplyLen = headerLen + 16
)

type Query struct {
	Query int64
}

type Reply struct {
	Query    int64
	Response int64
}

var (
	errUnexpectedPacketSize    = errors.New("unexpected packet size")
	errUnexpectedPacketType    = errors.New("unexpected packet type")
	errUnexpectedPacketVersion = errors.New("unexpected packet version")
)

func EncodeQuery(b *[]byte, q *Query) {
	if cap(*b) < QueryLen {
		*b = make([]byte, QueryLen)
	} else {
		*b = (*b)[:QueryLen]
	}

	(*b)[0] = MsgTypeQuery
	(*b)[1] = Version
	(*b)[2] = 0
	(*b)[3] = 0
	binary.BigEndian.PutUint64((*b)[4:], uint64(q.Query))
}

func DecodeQuery(q *Query, b []byte) error {
	if len(b) != QueryLen {
		return errUnexpectedPacketSize
	}
	if b[0] != MsgTypeQuery {
		return errUnexpectedPacketType
	}
	if b[1] != Version {
		return errUnexpectedPacketVersion
	}

	q.Query = int64(binary.BigEndian.Uint64(b[4:]))
	return nil
}

func EncodeReply(b *[]byte, r *Reply) {
	if cap(*b) < ReplyLen {
		*b = make([]byte, ReplyLen)
	} else {
		*b = (*b)[:ReplyLen]
	}

	(*b)[0] = MsgTypeReply
	(*b)[1] = Version
	(*b)[2] = 0
	(*b)[3] = 0
	binary.BigEndian.PutUint64((*b)[4:], uint64(r.Query))
	binary.BigEndian.PutUint64((*b)[12:], uint64(r.Response))
}

func DecodeReply(r *Reply, b []byte) error {
	if len(b) != ReplyLen {
		return errUnexpectedPacketSize
	}
	if b[0] != MsgTypeReply {
		return errUnexpectedPacketType
	}
	if b[1] != Version {
		return errUnexpectedPacketVersion
	}

	r.Query = int64(binary.BigEndian.Uint64(b[4:]))
	r.Response = int64(binary.BigEndian.Uint64(b[12:]))
	return nil
}

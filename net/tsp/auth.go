package tsp

// Sealed frame variants for deployments with a pre-shared key. The body is
// encrypted and authenticated with AES-CMAC-SIV; the frame header is bound
// as associated data so type and version cannot be swapped on the wire.

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"

	"github.com/miscreant/miscreant.go"
)

const (
	KeyLen   = 32
	NonceLen = 16

	sivOverhead = 16

	MsgTypeSealedQuery = 0x81
	MsgTypeSealedReply = 0x82

	SealedQueryLen = headerLen + NonceLen + 8 + sivOverhead
	SealedReplyLen = headerLen + NonceLen + 16 + sivOverhead
)

func NewAEAD(key []byte) (cipher.AEAD, error) {
	return miscreant.NewAEAD("AES-CMAC-SIV", key, NonceLen)
}

func GenerateKey() []byte {
	return miscreant.GenerateKey(KeyLen)
}

func EncodeSealedQuery(b *[]byte, aead cipher.AEAD, q *Query) error {
	if cap(*b) < SealedQueryLen {
		*b = make([]byte, SealedQueryLen)
	} else {
		*b = (*b)[:SealedQueryLen]
	}

	(*b)[0] = MsgTypeSealedQuery
	(*b)[1] = Version
	(*b)[2] = 0
	(*b)[3] = 0
	nonce := (*b)[headerLen : headerLen+NonceLen]
	_, err := rand.Read(nonce)
	if err != nil {
		return err
	}
	var body [8]byte
	binary.BigEndian.PutUint64(body[:], uint64(q.Query))
	*b = aead.Seal((*b)[:headerLen+NonceLen], nonce, body[:], (*b)[:headerLen])
	return nil
}

func DecodeSealedQuery(q *Query, aead cipher.AEAD, b []byte) error {
	if len(b) != SealedQueryLen {
		return errUnexpectedPacketSize
	}
	if b[0] != MsgTypeSealedQuery {
		return errUnexpectedPacketType
	}
	if b[1] != Version {
		return errUnexpectedPacketVersion
	}

	nonce := b[headerLen : headerLen+NonceLen]
	body, err := aead.Open(nil, nonce, b[headerLen+NonceLen:], b[:headerLen])
	if err != nil {
		return err
	}
	if len(body) != 8 {
		return errUnexpectedPacketSize
	}
	q.Query = int64(binary.BigEndian.Uint64(body))
	return nil
}

func EncodeSealedReply(b *[]byte, aead cipher.AEAD, r *Reply) error {
	if cap(*b) < SealedReplyLen {
		*b = make([]byte, SealedReplyLen)
	} else {
		*b = (*b)[:SealedReplyLen]
	}

	(*b)[0] = MsgTypeSealedReply
	(*b)[1] = Version
	(*b)[2] = 0
	(*b)[3] = 0
	nonce := (*b)[headerLen : headerLen+NonceLen]
	_, err := rand.Read(nonce)
	if err != nil {
		return err
	}
	var body [16]byte
	binary.BigEndian.PutUint64(body[:], uint64(r.Query))
	binary.BigEndian.PutUint64(body[8:], uint64(r.Response))
	*b = aead.Seal((*b)[:headerLen+NonceLen], nonce, body[:], (*b)[:headerLen])
	return nil
}

func DecodeSealedReply(r *Reply, aead cipher.AEAD, b []byte) error {
	if len(b) != SealedReplyLen {
		return errUnexpectedPacketSize
	}
	if b[0] != MsgTypeSealedReply {
		return errUnexpectedPacketType
	}
	if b[1] != Version {
		return errUnexpectedPacketVersion
	}

	nonce := b[headerLen : headerLen+NonceLen]
	body, err := aead.Open(nil, nonce, b[headerLen+NonceLen:], b[:headerLen])
	if err != nil {
		return err
	}
	if len(body) != 16 {
		return errUnexpectedPacketSize
	}
	r.Query = int64(binary.BigEndian.Uint64(body))
	r.Response = int64(binary.BigEndian.Uint64(body[8:]))
	return nil
}

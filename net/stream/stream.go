package stream

// Reliable-order transport for probe frames, one bidirectional QUIC stream
// per connection. Frames are length prefixed with a 2 byte big endian count
// so that application framing survives stream segmentation. Receive times
// taken above a stream carry more jitter than a datagram receive path; the
// admission filter absorbs that.

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const alpn = "tsp/1"

const MaxFrameLen = 512

const tlsCertReloadInterval = time.Minute * 10

var errFrameTooLarge = errors.New("frame exceeds maximum length")

type tlsCertCache struct {
	cert       *tls.Certificate
	reloadedAt time.Time
	certFile   string
	keyFile    string
}

func (c *tlsCertCache) loadCert(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
	now := time.Now().UTC()
	if now.Before(c.reloadedAt) || !now.Before(c.reloadedAt.Add(tlsCertReloadInterval)) {
		cert, err := tls.LoadX509KeyPair(c.certFile, c.keyFile)
		if err != nil {
			return &tls.Certificate{}, err
		}
		c.cert = &cert
		c.reloadedAt = now
	}
	return c.cert, nil
}

// NewTLSServerConfig returns a listener TLS configuration that reloads the
// certificate periodically. A bad certificate path surfaces at the first
// handshake, not at startup.
func NewTLSServerConfig(certFile, keyFile string) *tls.Config {
	certCache := tlsCertCache{
		certFile: certFile,
		keyFile:  keyFile,
	}
	return &tls.Config{
		GetCertificate: certCache.loadCert,
		MinVersion:     tls.VersionTLS13,
		NextProtos:     []string{alpn},
	}
}

func NewTLSClientConfig(insecureSkipVerify bool) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: insecureSkipVerify,
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{alpn},
	}
}

type Listener struct {
	listener *quic.Listener
}

func Listen(addr string, config *tls.Config) (*Listener, error) {
	l, err := quic.ListenAddr(addr, config, nil /* quicCfg */)
	if err != nil {
		return nil, err
	}
	return &Listener{listener: l}, nil
}

// Accept waits for the next connection and for the peer to open its stream.
// The stream only becomes visible once the peer has written to it.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	c, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	s, err := c.AcceptStream(ctx)
	if err != nil {
		_ = c.CloseWithError(0, "")
		return nil, err
	}
	return &Conn{conn: c, stream: s}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *Listener) Close() error {
	return l.listener.Close()
}

func Dial(ctx context.Context, addr string, config *tls.Config) (*Conn, error) {
	c, err := quic.DialAddr(ctx, addr, config, nil /* quicCfg */)
	if err != nil {
		return nil, err
	}
	s, err := c.OpenStreamSync(ctx)
	if err != nil {
		_ = c.CloseWithError(0, "")
		return nil, err
	}
	return &Conn{conn: c, stream: s}, nil
}

type Conn struct {
	conn   quic.Connection
	stream quic.Stream
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) WriteFrame(b []byte) error {
	return WriteFrame(c.stream, b)
}

func (c *Conn) ReadFrame(b []byte) (int, error) {
	return ReadFrame(c.stream, b)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *Conn) Close() error {
	err := c.stream.Close()
	cerr := c.conn.CloseWithError(0, "")
	if err == nil {
		err = cerr
	}
	return err
}

// WriteFrame writes one length prefixed frame in a single Write call.
// Callers must not write to w concurrently.
func WriteFrame(w io.Writer, b []byte) error {
	if len(b) > MaxFrameLen {
		return errFrameTooLarge
	}
	var buf [2 + MaxFrameLen]byte
	binary.BigEndian.PutUint16(buf[:2], uint16(len(b)))
	n := copy(buf[2:], b)
	_, err := w.Write(buf[:2+n])
	return err
}

// ReadFrame reads one length prefixed frame into b and returns its length.
// A frame larger than b desynchronizes the stream; callers must drop the
// connection on any error.
func ReadFrame(r io.Reader, b []byte) (int, error) {
	var hdr [2]byte
	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return 0, err
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	if n > len(b) {
		return 0, errFrameTooLarge
	}
	_, err = io.ReadFull(r, b[:n])
	if err != nil {
		return 0, err
	}
	return n, nil
}

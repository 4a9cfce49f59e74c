package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/parley-proto/parley/internal/wire"
)

const alpnProtocol = "parley-quic"

// QUIC carries one framed JSON envelope per stream. Connections are dialed
// per send: handshake traffic is sparse and self-retrying, so pooling buys
// nothing at this scale.
//
// TLS uses a deterministic development certificate on both ends; the
// protocol itself carries no cryptographic authentication, so the transport
// does not pretend to add any.
type QUIC struct {
	selfAddr  string
	bootstrap []string
	handler   Handler
	listener  *quic.Listener
}

// NewQUIC creates a transport that listens on listenAddr and broadcasts to
// the bootstrap addresses. Inbound envelopes go to h.
func NewQUIC(listenAddr string, bootstrap []string, h Handler) *QUIC {
	return &QUIC{
		selfAddr:  listenAddr,
		bootstrap: bootstrap,
		handler:   h,
	}
}

// Listen starts accepting connections. It returns once the listener is
// ready; accepted streams are handled on their own goroutines until ctx is
// cancelled or Close is called.
func (q *QUIC) Listen(ctx context.Context) error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return fmt.Errorf("quic listen: %w", err)
	}
	listener, err := quic.ListenAddr(q.selfAddr, tlsConf, nil)
	if err != nil {
		return fmt.Errorf("quic listen: %w", err)
	}
	q.listener = listener
	slog.Info("quic listening", "addr", q.selfAddr)

	go q.acceptLoop(ctx)
	return nil
}

// Close shuts the listener down.
func (q *QUIC) Close() error {
	if q.listener == nil {
		return nil
	}
	return q.listener.Close()
}

func (q *QUIC) acceptLoop(ctx context.Context) {
	for {
		conn, err := q.listener.Accept(ctx)
		if err != nil {
			slog.Debug("quic accept ended", "error", err)
			return
		}
		go q.connLoop(ctx, conn)
	}
}

func (q *QUIC) connLoop(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go func(s *quic.Stream) {
			defer s.Close()
			payload, err := wire.ReadFrame(s)
			if err != nil {
				slog.Debug("quic read failed", "remote", remote, "error", err)
				return
			}
			env, err := wire.Decode(payload)
			if err != nil {
				slog.Debug("quic decode failed", "remote", remote, "error", err)
				return
			}
			q.handler(env, replyAddr(env, remote))
		}(stream)
	}
}

// replyAddr picks the address to record for the sender: the advertised
// listen address when present, otherwise the observed remote (whose source
// port is ephemeral and usually not dialable).
func replyAddr(env wire.Envelope, remote string) string {
	if env.ListenAddr != "" {
		return env.ListenAddr
	}
	return remote
}

// Send dials addr and writes one framed envelope on a fresh stream.
func (q *QUIC) Send(ctx context.Context, addr string, env wire.Envelope) error {
	env.ListenAddr = q.selfAddr
	payload, err := wire.Encode(env)
	if err != nil {
		return err
	}

	tlsConf, err := clientTLSConfig()
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, addr, tlsConf, nil)
	if err != nil {
		return fmt.Errorf("quic dial %s: %w", addr, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		return fmt.Errorf("quic open stream: %w", err)
	}
	if err := wire.WriteFrame(stream, payload); err != nil {
		stream.Close()
		return fmt.Errorf("quic write: %w", err)
	}
	return stream.Close()
}

// Broadcast sends the envelope to every bootstrap address. Unreachable
// peers are expected; failures are logged at debug and never fail the
// broadcast.
func (q *QUIC) Broadcast(ctx context.Context, env wire.Envelope) error {
	for _, addr := range q.bootstrap {
		if addr == q.selfAddr {
			continue
		}
		if err := q.Send(ctx, addr, env); err != nil {
			slog.Debug("broadcast send failed", "addr", addr, "error", err)
		}
	}
	return nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// devTLSCert derives a deterministic self-signed certificate. Both ends
// share it, which is exactly as much trust as the protocol claims.
func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("parley-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}
	return cert, der, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}, nil
}

func clientTLSConfig() (*tls.Config, error) {
	_, der, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{
		RootCAs:    pool,
		NextProtos: []string{alpnProtocol},
	}, nil
}

package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/coedit/coedit/internal/core/collab"
	"github.com/coedit/coedit/internal/core/observability/log"
)

const quicALPN = "coedit-sync"

// syncRequest is the single frame a replica sends on a stream to request a
// full-state snapshot.
type syncRequest struct {
	SessionID string `json:"sessionId"`
}

type syncError struct {
	Error string `json:"error"`
}

// QuicSyncServer serves full-state sync-response envelopes over QUIC
// streams. A reconnecting replica opens a stream, sends a syncRequest and
// reads back one SyncEnvelope.
type QuicSyncServer struct {
	listener *quic.Listener
	manager  *collab.Manager
	logger   log.Log
}

func NewQuicSyncServer(addr string, manager *collab.Manager, logger log.Log) (*QuicSyncServer, error) {
	tlsConf, err := generateInMemoryTLSConfig()
	if err != nil {
		return nil, err
	}

	listener, err := quic.ListenAddr(addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	return &QuicSyncServer{listener: listener, manager: manager, logger: logger}, nil
}

// Serve accepts connections until the listener closes or ctx is cancelled.
func (s *QuicSyncServer) Serve(ctx context.Context) {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, quic.ErrServerClosed) {
				s.logger.Warn("quic accept failed", log.Error(err))
			}
			return
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *QuicSyncServer) Close() {
	_ = s.listener.Close()
}

func (s *QuicSyncServer) handleConn(ctx context.Context, conn *quic.Conn) {
	defer func() {
		_ = conn.CloseWithError(0, "done")
	}()

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.handleStream(stream)
	}
}

func (s *QuicSyncServer) handleStream(stream *quic.Stream) {
	defer func() {
		_ = stream.Close()
	}()
	_ = stream.SetDeadline(time.Now().Add(10 * time.Second))

	var req syncRequest
	if err := json.NewDecoder(stream).Decode(&req); err != nil {
		_ = json.NewEncoder(stream).Encode(syncError{Error: "invalid sync request"})
		return
	}

	env, err := s.manager.SyncState(req.SessionID)
	if err != nil {
		_ = json.NewEncoder(stream).Encode(syncError{Error: err.Error()})
		return
	}

	if err = json.NewEncoder(stream).Encode(env); err != nil {
		s.logger.Debug("quic sync write failed",
			log.String("session_id", req.SessionID),
			log.Error(err),
		)
	}
}

// generateInMemoryTLSConfig builds a self-signed certificate for the QUIC
// listener. Development only; production deployments inject real certs in
// front of this process.
func generateInMemoryTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"coedit"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{quicALPN},
	}, nil
}

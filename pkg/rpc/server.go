package rpc

import (
	"context"
	"crypto/ed25519"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"kitties/pkg/errors"
	"kitties/pkg/events"
	"kitties/pkg/kitties"
	"kitties/pkg/runtime"
	"kitties/pkg/types"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
)

// Server answers ledger requests over the framed protocol.
type Server struct {
	runtime *runtime.Runtime
	hello   Hello
	logger  *slog.Logger
}

// NewServer creates a server that applies submissions to rt.
func NewServer(rt *runtime.Runtime, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runtime: rt,
		hello: Hello{
			ProtocolVersion: ProtocolVersion,
			AppVersion:      Version{Major: 0, Minor: 1, Patch: 0},
			Name:            []byte("kittyd"),
		},
		logger: logger.With("component", "rpc"),
	}
}

// ServeUnix accepts connections on a unix socket until ctx is done. The
// socket is trusted: the signer named in each submission is the origin.
// Open connections are closed on shutdown and waited for before returning.
func (s *Server) ServeUnix(ctx context.Context, socketPath string) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.logger.Info("listening", "transport", "unix", "path", socketPath)

	var wg sync.WaitGroup
	defer wg.Wait()
	defer listener.Close()
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			stopConn := context.AfterFunc(ctx, func() { conn.Close() })
			defer stopConn()
			s.handleConnection(ctx, conn, nil)
		}()
	}
}

// ServeQUIC accepts QUIC connections until ctx is done. Clients must present
// an ed25519 certificate; its key is the origin of everything they submit.
func (s *Server) ServeQUIC(ctx context.Context, addr string, key ed25519.PrivateKey) error {
	listener, err := listenQUIC(addr, key)
	if err != nil {
		return err
	}
	s.logger.Info("listening", "transport", "quic", "addr", listener.Addr().String(),
		"node", AccountFromKey(key.Public().(ed25519.PublicKey)).String())
	return s.serveQUIC(ctx, listener)
}

func listenQUIC(addr string, key ed25519.PrivateKey) (*quic.Listener, error) {
	tlsConfig, err := serverTLSConfig(key)
	if err != nil {
		return nil, err
	}
	listener, err := quic.ListenAddr(addr, tlsConfig, &quic.Config{
		HandshakeIdleTimeout: 10 * time.Second,
		MaxIdleTimeout:       30 * time.Second,
		KeepAlivePeriod:      15 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return listener, nil
}

// serveQUIC takes ownership of listener and closes it on return.
func (s *Server) serveQUIC(ctx context.Context, listener *quic.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	defer listener.Close()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleQUICConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleQUICConnection(ctx context.Context, conn *quic.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.CloseWithError(0, "shutting down") })
	defer stop()

	account, err := peerAccount(conn.ConnectionState().TLS)
	if err != nil {
		conn.CloseWithError(0, err.Error())
		return
	}

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		s.logger.Warn("failed to accept stream", "peer", account.Short(), "error", err)
		conn.CloseWithError(0, "no stream")
		return
	}

	s.handleConnection(ctx, stream, &account)
	stream.Close()
	conn.CloseWithError(0, "")
}

// handleConnection serves one client. peer is the authenticated identity of
// the transport, or nil when the transport is trusted. Malformed requests and
// rejected calls are answered in-band; any other error ends the connection.
func (s *Server) handleConnection(ctx context.Context, rw io.ReadWriter, peer *types.AccountID) error {
	logger := s.logger.With("session", uuid.NewString())
	if peer != nil {
		logger = logger.With("peer", peer.Short())
	}

	msgData, err := readFrame(rw)
	if err != nil {
		logger.Warn("failed to receive hello", "error", err)
		return err
	}
	first, err := DecodeRequest(msgData)
	if err != nil || first.Hello == nil {
		logger.Warn("first message is not hello, closing connection")
		return fmt.Errorf("first message is not hello")
	}
	logger.Info("client connected", "name", string(first.Hello.Name), "protocol", first.Hello.ProtocolVersion)

	if err := s.send(rw, ResponseMessage{Hello: &s.hello}); err != nil {
		logger.Warn("failed to send hello", "error", err)
		return err
	}

	for {
		msgData, err := readFrame(rw)
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				logger.Info("client disconnected")
				return nil
			}
			logger.Warn("failed to receive message", "error", err)
			return err
		}

		resp, err := s.HandleMessageData(ctx, msgData, peer)
		if err != nil {
			logger.Error("failed to handle message", "error", err)
			return err
		}

		if err := s.send(rw, resp); err != nil {
			logger.Warn("failed to send response", "error", err)
			return err
		}
	}
}

func (s *Server) send(w io.Writer, msg ResponseMessage) error {
	data, err := EncodeResponse(msg)
	if err != nil {
		return err
	}
	return writeFrame(w, data)
}

// HandleMessageData answers one request. The returned error is set only
// for failures of the server itself.
func (s *Server) HandleMessageData(ctx context.Context, msgData []byte, peer *types.AccountID) (ResponseMessage, error) {
	msg, err := DecodeRequest(msgData)
	if err != nil {
		return errorResponse(errors.CodeNone, err), nil
	}

	switch {
	case msg.Hello != nil:
		return ResponseMessage{Hello: &s.hello}, nil

	case msg.Submit != nil:
		return s.handleSubmit(ctx, *msg.Submit, peer)

	case msg.GetKitty != nil:
		kitty, found, err := s.runtime.Kitty(types.KittyIndex(*msg.GetKitty))
		if err != nil {
			return ResponseMessage{}, err
		}
		result := &KittyResult{}
		if found {
			result.Kitty = &kitty
		}
		return ResponseMessage{Kitty: result}, nil

	case msg.GetOwner != nil:
		owner, found, err := s.runtime.Owner(types.KittyIndex(*msg.GetOwner))
		if err != nil {
			return ResponseMessage{}, err
		}
		result := &OwnerResult{}
		if found {
			result.Owner = &owner
		}
		return ResponseMessage{Owner: result}, nil

	case msg.GetNextKittyID != nil:
		next, err := s.runtime.NextKittyID()
		if err != nil {
			return ResponseMessage{}, err
		}
		id := NextKittyID(next)
		return ResponseMessage{NextKittyID: &id}, nil

	case msg.GetOwned != nil:
		ids, err := s.runtime.KittiesOwnedBy(types.AccountID(*msg.GetOwned))
		if err != nil {
			return ResponseMessage{}, err
		}
		return ResponseMessage{Owned: &Owned{IDs: ids}}, nil

	case msg.GetEvents != nil:
		return s.handleGetEvents(uint64(*msg.GetEvents))

	default:
		return errorResponse(errors.CodeNone, fmt.Errorf("empty request")), nil
	}
}

func (s *Server) handleSubmit(ctx context.Context, submit Submit, peer *types.AccountID) (ResponseMessage, error) {
	xts := make([]runtime.Extrinsic, 0, len(submit.Extrinsics))
	for i, item := range submit.Extrinsics {
		call, err := kitties.DecodeCall(item.Call)
		if err != nil {
			return errorResponse(errors.CodeNone, fmt.Errorf("extrinsic %d: %w", i, err)), nil
		}
		xts = append(xts, runtime.Extrinsic{Origin: originFor(item.Signer, peer), Call: call})
	}

	result, err := s.runtime.ApplyBatch(ctx, xts)
	if err != nil {
		return ResponseMessage{}, err
	}

	resp := &BatchResult{Number: result.Number, Seed: result.Seed}
	for _, r := range result.Results {
		outcome := ExtrinsicOutcome{Code: errors.CodeOf(r.Err), Events: [][]byte{}}
		for _, ev := range r.Events {
			outcome.Events = append(outcome.Events, events.Encode(ev))
		}
		resp.Outcomes = append(resp.Outcomes, outcome)
	}
	return ResponseMessage{BatchResult: resp}, nil
}

// originFor resolves the origin of a submitted extrinsic. Over an
// authenticated transport a signer other than the peer yields an unsigned
// origin, which the ledger rejects as BadOrigin.
func originFor(signer, peer *types.AccountID) kitties.Origin {
	if peer == nil {
		if signer == nil {
			return kitties.None()
		}
		return kitties.Signed(*signer)
	}
	if signer != nil && *signer != *peer {
		return kitties.None()
	}
	return kitties.Signed(*peer)
}

func (s *Server) handleGetEvents(batch uint64) (ResponseMessage, error) {
	records, err := s.runtime.Events(batch)
	if err != nil {
		return ResponseMessage{}, err
	}
	list := &EventList{Batch: batch, Items: []EventItem{}}
	for _, rec := range records {
		list.Items = append(list.Items, EventItem{Extrinsic: rec.Extrinsic, Data: events.Encode(rec.Event)})
	}
	return ResponseMessage{Events: list}, nil
}

func errorResponse(code errors.Code, err error) ResponseMessage {
	return ResponseMessage{Error: &Error{Code: code, Message: []byte(err.Error())}}
}

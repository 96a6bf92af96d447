package rpc

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"net"
	"sync"

	"kitties/pkg/errors"
	"kitties/pkg/events"
	"kitties/pkg/kitties"
	"kitties/pkg/types"

	"github.com/quic-go/quic-go"
)

// Client issues requests one at a time over a single connection.
type Client struct {
	mu     sync.Mutex
	rw     io.ReadWriter
	closer func() error
	Server Hello
}

// Extrinsic is a call to submit. A nil Signer submits it unsigned, or as
// the connection identity over QUIC.
type Extrinsic struct {
	Signer *types.AccountID
	Call   kitties.Call
}

// Outcome is the decoded result of one submitted extrinsic.
type Outcome struct {
	Err    error
	Events []events.Event
}

type SubmitResult struct {
	Batch    uint64
	Outcomes []Outcome
}

// NewClient performs the hello exchange over rw. closer may be nil.
func NewClient(rw io.ReadWriter, closer func() error, name string) (*Client, error) {
	c := &Client{rw: rw, closer: closer}
	resp, err := c.roundTrip(RequestMessage{Hello: &Hello{
		ProtocolVersion: ProtocolVersion,
		Name:            []byte(name),
	}})
	if err != nil {
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	if resp.Hello == nil {
		return nil, fmt.Errorf("handshake failed: unexpected response")
	}
	if resp.Hello.ProtocolVersion != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", resp.Hello.ProtocolVersion)
	}
	c.Server = *resp.Hello
	return c, nil
}

// DialUnix connects to a server's unix socket.
func DialUnix(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	c, err := NewClient(conn, conn.Close, "kittycli")
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// DialQUIC connects to a server over QUIC, authenticating as key.
func DialQUIC(ctx context.Context, addr string, key ed25519.PrivateKey) (*Client, error) {
	tlsConfig, err := clientTLSConfig(key)
	if err != nil {
		return nil, err
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	closer := func() error {
		stream.Close()
		return conn.CloseWithError(0, "")
	}
	c, err := NewClient(stream, closer, "kittycli")
	if err != nil {
		closer()
		return nil, err
	}
	return c, nil
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Client) roundTrip(req RequestMessage) (ResponseMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := EncodeRequest(req)
	if err != nil {
		return ResponseMessage{}, err
	}
	if err := writeFrame(c.rw, data); err != nil {
		return ResponseMessage{}, fmt.Errorf("failed to send request: %w", err)
	}
	respData, err := readFrame(c.rw)
	if err != nil {
		return ResponseMessage{}, fmt.Errorf("failed to receive response: %w", err)
	}
	resp, err := DecodeResponse(respData)
	if err != nil {
		return ResponseMessage{}, err
	}
	if resp.Error != nil {
		return ResponseMessage{}, &errors.ProtocolError{Code: resp.Error.Code, Message: string(resp.Error.Message)}
	}
	return resp, nil
}

// Submit applies xts as one batch.
func (c *Client) Submit(xts ...Extrinsic) (SubmitResult, error) {
	submit := &Submit{Extrinsics: make([]SubmitItem, 0, len(xts))}
	for _, xt := range xts {
		submit.Extrinsics = append(submit.Extrinsics, SubmitItem{Signer: xt.Signer, Call: kitties.EncodeCall(xt.Call)})
	}

	resp, err := c.roundTrip(RequestMessage{Submit: submit})
	if err != nil {
		return SubmitResult{}, err
	}
	if resp.BatchResult == nil {
		return SubmitResult{}, fmt.Errorf("unexpected response to submit")
	}

	result := SubmitResult{Batch: resp.BatchResult.Number}
	for i, o := range resp.BatchResult.Outcomes {
		outcome := Outcome{}
		if o.Code != errors.CodeNone {
			outcome.Err = errors.FromCode(o.Code)
		}
		for _, data := range o.Events {
			ev, err := events.Decode(data)
			if err != nil {
				return SubmitResult{}, fmt.Errorf("extrinsic %d: %w", i, err)
			}
			outcome.Events = append(outcome.Events, ev)
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

func (c *Client) Kitty(id types.KittyIndex) (types.Kitty, bool, error) {
	req := GetKitty(id)
	resp, err := c.roundTrip(RequestMessage{GetKitty: &req})
	if err != nil {
		return types.Kitty{}, false, err
	}
	if resp.Kitty == nil {
		return types.Kitty{}, false, fmt.Errorf("unexpected response to get kitty")
	}
	if resp.Kitty.Kitty == nil {
		return types.Kitty{}, false, nil
	}
	return *resp.Kitty.Kitty, true, nil
}

func (c *Client) Owner(id types.KittyIndex) (types.AccountID, bool, error) {
	req := GetOwner(id)
	resp, err := c.roundTrip(RequestMessage{GetOwner: &req})
	if err != nil {
		return types.AccountID{}, false, err
	}
	if resp.Owner == nil {
		return types.AccountID{}, false, fmt.Errorf("unexpected response to get owner")
	}
	if resp.Owner.Owner == nil {
		return types.AccountID{}, false, nil
	}
	return *resp.Owner.Owner, true, nil
}

func (c *Client) NextKittyID() (types.KittyIndex, error) {
	resp, err := c.roundTrip(RequestMessage{GetNextKittyID: &GetNextKittyID{}})
	if err != nil {
		return 0, err
	}
	if resp.NextKittyID == nil {
		return 0, fmt.Errorf("unexpected response to get next kitty id")
	}
	return types.KittyIndex(*resp.NextKittyID), nil
}

func (c *Client) KittiesOwnedBy(owner types.AccountID) ([]types.KittyIndex, error) {
	req := GetOwned(owner)
	resp, err := c.roundTrip(RequestMessage{GetOwned: &req})
	if err != nil {
		return nil, err
	}
	if resp.Owned == nil {
		return nil, fmt.Errorf("unexpected response to get owned")
	}
	return resp.Owned.IDs, nil
}

func (c *Client) Events(batch uint64) ([]events.Record, error) {
	req := GetEvents(batch)
	resp, err := c.roundTrip(RequestMessage{GetEvents: &req})
	if err != nil {
		return nil, err
	}
	if resp.Events == nil {
		return nil, fmt.Errorf("unexpected response to get events")
	}
	records := make([]events.Record, 0, len(resp.Events.Items))
	for _, item := range resp.Events.Items {
		ev, err := events.Decode(item.Data)
		if err != nil {
			return nil, fmt.Errorf("extrinsic %d: %w", item.Extrinsic, err)
		}
		records = append(records, events.Record{Batch: batch, Extrinsic: item.Extrinsic, Event: ev})
	}
	return records, nil
}

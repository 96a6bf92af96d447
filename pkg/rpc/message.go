package rpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"kitties/pkg/errors"
	"kitties/pkg/serializer"
	"kitties/pkg/types"
)

// ProtocolVersion is bumped on any incompatible change to the messages below.
const ProtocolVersion = 1

// MaxMessageSize bounds a single frame.
const MaxMessageSize = 16 << 20

type Version struct {
	Major uint8
	Minor uint8
	Patch uint8
}

type Hello struct {
	ProtocolVersion uint8
	AppVersion      Version
	Name            []byte
}

// SubmitItem is one extrinsic. Call holds kitties.EncodeCall output.
type SubmitItem struct {
	Signer *types.AccountID
	Call   []byte
}

type Submit struct {
	Extrinsics []SubmitItem
}

type GetKitty types.KittyIndex

type GetOwner types.KittyIndex

type GetNextKittyID struct{}

type GetOwned types.AccountID

type GetEvents uint64

// ExtrinsicOutcome reports one extrinsic: Code is errors.CodeNone on success,
// and Events holds events.Encode output for each deposited event.
type ExtrinsicOutcome struct {
	Code   errors.Code
	Events [][]byte
}

type BatchResult struct {
	Number   uint64
	Seed     [32]byte
	Outcomes []ExtrinsicOutcome
}

type KittyResult struct {
	Kitty *types.Kitty
}

type OwnerResult struct {
	Owner *types.AccountID
}

type NextKittyID types.KittyIndex

type Owned struct {
	IDs []types.KittyIndex
}

type EventItem struct {
	Extrinsic uint32
	Data      []byte
}

type EventList struct {
	Batch uint64
	Items []EventItem
}

type Error struct {
	Code    errors.Code
	Message []byte
}

// RequestMessage carries exactly one non-nil field.
type RequestMessage struct {
	Hello          *Hello
	Submit         *Submit
	GetKitty       *GetKitty
	GetOwner       *GetOwner
	GetNextKittyID *GetNextKittyID
	GetOwned       *GetOwned
	GetEvents      *GetEvents
}

// ResponseMessage carries exactly one non-nil field.
type ResponseMessage struct {
	Hello       *Hello
	BatchResult *BatchResult
	Kitty       *KittyResult
	Owner       *OwnerResult
	NextKittyID *NextKittyID
	Owned       *Owned
	Events      *EventList
	Error       *Error
}

// RequestMessageType identifies the type of a request message
type RequestMessageType byte

const (
	RequestMessageTypeHello          RequestMessageType = 0
	RequestMessageTypeSubmit         RequestMessageType = 1
	RequestMessageTypeGetKitty       RequestMessageType = 2
	RequestMessageTypeGetOwner       RequestMessageType = 3
	RequestMessageTypeGetNextKittyID RequestMessageType = 4
	RequestMessageTypeGetOwned       RequestMessageType = 5
	RequestMessageTypeGetEvents      RequestMessageType = 6
)

// ResponseMessageType identifies the type of a response message
type ResponseMessageType byte

const (
	ResponseMessageTypeHello       ResponseMessageType = 0
	ResponseMessageTypeBatchResult ResponseMessageType = 1
	ResponseMessageTypeKitty       ResponseMessageType = 2
	ResponseMessageTypeOwner       ResponseMessageType = 3
	ResponseMessageTypeNextKittyID ResponseMessageType = 4
	ResponseMessageTypeOwned       ResponseMessageType = 5
	ResponseMessageTypeEvents      ResponseMessageType = 6
	ResponseMessageTypeError       ResponseMessageType = 255
)

// EncodeRequest returns the type byte followed by the encoded payload.
func EncodeRequest(msg RequestMessage) ([]byte, error) {
	var payload any
	var msgType RequestMessageType

	switch {
	case msg.Hello != nil:
		payload, msgType = *msg.Hello, RequestMessageTypeHello
	case msg.Submit != nil:
		payload, msgType = *msg.Submit, RequestMessageTypeSubmit
	case msg.GetKitty != nil:
		payload, msgType = *msg.GetKitty, RequestMessageTypeGetKitty
	case msg.GetOwner != nil:
		payload, msgType = *msg.GetOwner, RequestMessageTypeGetOwner
	case msg.GetNextKittyID != nil:
		payload, msgType = *msg.GetNextKittyID, RequestMessageTypeGetNextKittyID
	case msg.GetOwned != nil:
		payload, msgType = *msg.GetOwned, RequestMessageTypeGetOwned
	case msg.GetEvents != nil:
		payload, msgType = *msg.GetEvents, RequestMessageTypeGetEvents
	default:
		return nil, fmt.Errorf("empty request message")
	}

	return append([]byte{byte(msgType)}, serializer.Serialize(payload)...), nil
}

func DecodeRequest(data []byte) (RequestMessage, error) {
	if len(data) == 0 {
		return RequestMessage{}, fmt.Errorf("empty request")
	}
	var msg RequestMessage
	var target any

	switch RequestMessageType(data[0]) {
	case RequestMessageTypeHello:
		msg.Hello = &Hello{}
		target = msg.Hello
	case RequestMessageTypeSubmit:
		msg.Submit = &Submit{}
		target = msg.Submit
	case RequestMessageTypeGetKitty:
		msg.GetKitty = new(GetKitty)
		target = msg.GetKitty
	case RequestMessageTypeGetOwner:
		msg.GetOwner = new(GetOwner)
		target = msg.GetOwner
	case RequestMessageTypeGetNextKittyID:
		msg.GetNextKittyID = &GetNextKittyID{}
		target = msg.GetNextKittyID
	case RequestMessageTypeGetOwned:
		msg.GetOwned = new(GetOwned)
		target = msg.GetOwned
	case RequestMessageTypeGetEvents:
		msg.GetEvents = new(GetEvents)
		target = msg.GetEvents
	default:
		return RequestMessage{}, fmt.Errorf("unknown request message type: %d", data[0])
	}

	if err := serializer.Deserialize(data[1:], target); err != nil {
		return RequestMessage{}, fmt.Errorf("failed to decode request %d: %w", data[0], err)
	}
	return msg, nil
}

func EncodeResponse(msg ResponseMessage) ([]byte, error) {
	var payload any
	var msgType ResponseMessageType

	switch {
	case msg.Hello != nil:
		payload, msgType = *msg.Hello, ResponseMessageTypeHello
	case msg.BatchResult != nil:
		payload, msgType = *msg.BatchResult, ResponseMessageTypeBatchResult
	case msg.Kitty != nil:
		payload, msgType = *msg.Kitty, ResponseMessageTypeKitty
	case msg.Owner != nil:
		payload, msgType = *msg.Owner, ResponseMessageTypeOwner
	case msg.NextKittyID != nil:
		payload, msgType = *msg.NextKittyID, ResponseMessageTypeNextKittyID
	case msg.Owned != nil:
		payload, msgType = *msg.Owned, ResponseMessageTypeOwned
	case msg.Events != nil:
		payload, msgType = *msg.Events, ResponseMessageTypeEvents
	case msg.Error != nil:
		payload, msgType = *msg.Error, ResponseMessageTypeError
	default:
		return nil, fmt.Errorf("empty response message")
	}

	return append([]byte{byte(msgType)}, serializer.Serialize(payload)...), nil
}

func DecodeResponse(data []byte) (ResponseMessage, error) {
	if len(data) == 0 {
		return ResponseMessage{}, fmt.Errorf("empty response")
	}
	var msg ResponseMessage
	var target any

	switch ResponseMessageType(data[0]) {
	case ResponseMessageTypeHello:
		msg.Hello = &Hello{}
		target = msg.Hello
	case ResponseMessageTypeBatchResult:
		msg.BatchResult = &BatchResult{}
		target = msg.BatchResult
	case ResponseMessageTypeKitty:
		msg.Kitty = &KittyResult{}
		target = msg.Kitty
	case ResponseMessageTypeOwner:
		msg.Owner = &OwnerResult{}
		target = msg.Owner
	case ResponseMessageTypeNextKittyID:
		msg.NextKittyID = new(NextKittyID)
		target = msg.NextKittyID
	case ResponseMessageTypeOwned:
		msg.Owned = &Owned{}
		target = msg.Owned
	case ResponseMessageTypeEvents:
		msg.Events = &EventList{}
		target = msg.Events
	case ResponseMessageTypeError:
		msg.Error = &Error{}
		target = msg.Error
	default:
		return ResponseMessage{}, fmt.Errorf("unknown response message type: %d", data[0])
	}

	if err := serializer.Deserialize(data[1:], target); err != nil {
		return ResponseMessage{}, fmt.Errorf("failed to decode response %d: %w", data[0], err)
	}
	return msg, nil
}

// readFrame reads one message: a 32-bit little-endian length, then the message.
func readFrame(r io.Reader) ([]byte, error) {
	lengthBytes := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBytes); err != nil {
		return nil, err
	}
	messageLength := binary.LittleEndian.Uint32(lengthBytes)
	if messageLength == 0 || messageLength > MaxMessageSize {
		return nil, fmt.Errorf("invalid message length %d", messageLength)
	}

	messageData := make([]byte, messageLength)
	if _, err := io.ReadFull(r, messageData); err != nil {
		return nil, err
	}
	return messageData, nil
}

func writeFrame(w io.Writer, data []byte) error {
	frame := make([]byte, 4, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	frame = append(frame, data...)
	_, err := w.Write(frame)
	return err
}

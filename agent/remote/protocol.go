package remote

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/agentrelay/types"
)

// Protocol message types that never carry a commandId.
const (
	TypeHandshake    = "handshake"
	TypeHandshakeAck = "handshake_ack"
	TypePing         = "ping"
	TypePong         = "pong"
)

// Reply types with fixed meaning. Any other reply type is a data-bearing result.
const (
	ReplySuccess = "success"
	ReplyError   = "error"
)

const (
	fieldType      = types.CommandFieldType
	fieldCommandID = types.CommandFieldID
)

// Handshake is sent once by the executor right after connecting.
type Handshake struct {
	Type    string                 `json:"type"`
	Client  string                 `json:"client"`
	Version string                 `json:"version"`
	Tools   []types.ToolDefinition `json:"tools,omitempty"`
}

// HandshakeAck answers a Handshake.
type HandshakeAck struct {
	Type      string `json:"type"`
	Server    string `json:"server"`
	Timestamp int64  `json:"timestamp"`
}

// Reply is an executor message that carries a commandId.
type Reply struct {
	Type      string
	CommandID string
	// Fields 除 type 与 commandId 之外的全部字段
	Fields map[string]any
}

// InboundKind classifies a decoded executor message.
type InboundKind int

const (
	InboundReply InboundKind = iota
	InboundHandshake
	InboundPing
	InboundPong
	// InboundUncorrelated is a non-protocol message without a commandId.
	InboundUncorrelated
)

// Inbound is one decoded executor message.
type Inbound struct {
	Kind      InboundKind
	Handshake *Handshake
	Reply     Reply
}

// EncodeCommand builds the command envelope {"type": tool, ...args, "commandId": id}.
// Arguments named like an envelope field are rejected.
func EncodeCommand(commandID string, req types.ToolCallRequest) ([]byte, error) {
	envelope := make(map[string]any, len(req.Arguments)+2)
	for k, v := range req.Arguments {
		if k == fieldType || k == fieldCommandID {
			return nil, fmt.Errorf("encode command %s: argument %q collides with the command envelope", req.ToolID, k)
		}
		envelope[k] = v
	}
	envelope[fieldType] = req.ToolID
	envelope[fieldCommandID] = commandID
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode command %s: %w", req.ToolID, err)
	}
	return data, nil
}

// Decode classifies a raw executor message. Protocol messages are recognized
// before any commandId lookup.
func Decode(data []byte) (Inbound, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Inbound{}, fmt.Errorf("decode executor message: %w", err)
	}
	msgType, _ := fields[fieldType].(string)

	switch msgType {
	case TypeHandshake:
		var hs Handshake
		if err := json.Unmarshal(data, &hs); err != nil {
			return Inbound{}, fmt.Errorf("decode handshake: %w", err)
		}
		return Inbound{Kind: InboundHandshake, Handshake: &hs}, nil
	case TypePing:
		return Inbound{Kind: InboundPing}, nil
	case TypePong, TypeHandshakeAck:
		return Inbound{Kind: InboundPong}, nil
	}

	commandID, _ := fields[fieldCommandID].(string)
	delete(fields, fieldType)
	delete(fields, fieldCommandID)
	reply := Reply{Type: msgType, CommandID: commandID, Fields: fields}
	if commandID == "" {
		return Inbound{Kind: InboundUncorrelated, Reply: reply}, nil
	}
	return Inbound{Kind: InboundReply, Reply: reply}, nil
}

// Result converts a reply into the ToolCallResult of toolID.
func (r Reply) Result(toolID string) types.ToolCallResult {
	switch r.Type {
	case ReplySuccess:
		res := types.ToolCallResult{ToolID: toolID, Success: true}
		if msg, ok := r.Fields["message"]; ok {
			res.Result = msg
		} else if len(r.Fields) > 0 {
			res.Result = r.Fields
		}
		return res
	case ReplyError:
		text, _ := r.Fields["error"].(string)
		if text == "" {
			text, _ = r.Fields["message"].(string)
		}
		if text == "" {
			text = "executor reported an error"
		}
		return types.ToolCallResult{ToolID: toolID, Success: false, Error: text, ErrorCode: types.ErrToolExecution}
	default:
		payload := make(map[string]any, len(r.Fields)+1)
		for k, v := range r.Fields {
			payload[k] = v
		}
		payload["kind"] = r.Type
		return types.ToolCallResult{ToolID: toolID, Success: true, Result: payload}
	}
}

func encodeAck(server string, timestampMillis int64) ([]byte, error) {
	return json.Marshal(HandshakeAck{Type: TypeHandshakeAck, Server: server, Timestamp: timestampMillis})
}

func encodePong() []byte {
	return []byte(`{"type":"pong"}`)
}

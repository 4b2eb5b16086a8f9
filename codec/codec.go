// Package codec converts the UPI XML dialect to and from the typed message model.
package codec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/vitwit/upiswitch/types"
)

const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// DecodeError reports input that could not be parsed as the requested message.
type DecodeError struct {
	MsgType types.MessageType
	Err     error
}

func (e *DecodeError) Error() string {
	if e.MsgType == "" {
		return fmt.Sprintf("decode message: %v", e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.MsgType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is (or wraps) a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Sniff returns the contract named by the root element of data.
func Sniff(data []byte) (types.MessageType, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				err = errors.New("no root element")
			}
			return "", &DecodeError{Err: err}
		}
		if start, ok := tok.(xml.StartElement); ok {
			mt := types.MessageType(start.Name.Local)
			if !mt.IsKnown() {
				return mt, &DecodeError{Err: fmt.Errorf("unknown root element %q", start.Name.Local)}
			}
			return mt, nil
		}
	}
}

// Decode parses data as msgType.
func Decode(msgType types.MessageType, data []byte) (types.Message, error) {
	switch msgType {
	case types.MessageReqPay:
		return DecodePayRequest(data)
	case types.MessageRespPay:
		return DecodePayResponse(data)
	case types.MessageReqValAdd:
		return DecodeValAddRequest(data)
	case types.MessageRespValAdd:
		return DecodeValAddResponse(data)
	default:
		return nil, &DecodeError{MsgType: msgType, Err: errors.New("unsupported message type")}
	}
}

// DecodePayRequest parses a ReqPay.
func DecodePayRequest(data []byte) (*types.PayRequest, error) {
	var req types.PayRequest
	if err := decodeInto(types.MessageReqPay, data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodePayResponse parses a RespPay.
func DecodePayResponse(data []byte) (*types.PayResponse, error) {
	var resp types.PayResponse
	if err := decodeInto(types.MessageRespPay, data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DecodeValAddRequest parses a ReqValAdd.
func DecodeValAddRequest(data []byte) (*types.ValAddRequest, error) {
	var req types.ValAddRequest
	if err := decodeInto(types.MessageReqValAdd, data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeValAddResponse parses a RespValAdd.
func DecodeValAddResponse(data []byte) (*types.ValAddResponse, error) {
	var resp types.ValAddResponse
	if err := decodeInto(types.MessageRespValAdd, data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func decodeInto(msgType types.MessageType, data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return &DecodeError{MsgType: msgType, Err: errors.New("empty document")}
	}

	root, err := Sniff(data)
	if err != nil {
		return &DecodeError{MsgType: msgType, Err: errors.Unwrap(err)}
	}
	if root != msgType {
		return &DecodeError{MsgType: msgType, Err: fmt.Errorf("root element is %s", root)}
	}

	if err := xml.Unmarshal(data, v); err != nil {
		return &DecodeError{MsgType: msgType, Err: err}
	}
	return nil
}

// Encode serialises msg with an XML declaration and the UPI namespace.
func Encode(msg types.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("encode: nil message")
	}

	var buf bytes.Buffer
	buf.WriteString(xmlDeclaration)

	enc := xml.NewEncoder(&buf)
	start := xml.StartElement{Name: xml.Name{Space: types.Namespace, Local: msg.MessageType().String()}}
	if err := enc.EncodeElement(msg, start); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	return buf.Bytes(), nil
}

// MustEncode is Encode for fixtures whose shape is known to be valid.
func MustEncode(msg types.Message) []byte {
	data, err := Encode(msg)
	if err != nil {
		panic(err)
	}
	return data
}

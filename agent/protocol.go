// Package agent implements the state agent hosted in a navigated page and the
// one-shot message protocol used to talk to it.
//
// Messages form a closed set: a SaveRequest is answered by a SaveResponse, a
// LoadRequest by a LoadResponse. On the wire they are compatible with the
// browser extension messages:
//
//	{"cmd":"save"}                     -> {"ss":{...},"ls":{...}}
//	{"cmd":"load","ss":{...},"ls":{...}} -> {"cmd":"ok"}
package agent

import (
	"encoding/json"
	"fmt"
)

const (
	cmdSave = "save"
	cmdLoad = "load"
	cmdOK   = "ok"
)

// Request is a message sent to the agent. Implemented by SaveRequest and
// LoadRequest only.
type Request interface {
	request()
	Cmd() string
}

// Response is a message returned by the agent. Implemented by SaveResponse
// and LoadResponse only.
type Response interface {
	response()
}

// SaveRequest asks the agent to serialise both storage areas.
type SaveRequest struct{}

// LoadRequest asks the agent to write the given keys into the page storage.
type LoadRequest struct {
	SS map[string]string
	LS map[string]string
}

// SaveResponse carries every key/value pair of both storage areas.
type SaveResponse struct {
	SS map[string]string
	LS map[string]string
}

// LoadResponse acknowledges a LoadRequest.
type LoadResponse struct{}

func (SaveRequest) request()   {}
func (LoadRequest) request()   {}
func (SaveResponse) response() {}
func (LoadResponse) response() {}

// Cmd returns the wire tag.
func (SaveRequest) Cmd() string { return cmdSave }

// Cmd returns the wire tag.
func (LoadRequest) Cmd() string { return cmdLoad }

type wireMessage struct {
	Cmd string            `json:"cmd,omitempty"`
	SS  map[string]string `json:"ss,omitempty"`
	LS  map[string]string `json:"ls,omitempty"`
}

// saveResponseWire always emits both maps, even empty.
type saveResponseWire struct {
	SS map[string]string `json:"ss"`
	LS map[string]string `json:"ls"`
}

// EncodeRequest serialises a request to its wire form.
func EncodeRequest(req Request) ([]byte, error) {
	switch r := req.(type) {
	case SaveRequest:
		return json.Marshal(wireMessage{Cmd: cmdSave})
	case LoadRequest:
		return json.Marshal(wireMessage{Cmd: cmdLoad, SS: r.SS, LS: r.LS})
	default:
		return nil, fmt.Errorf("agent: unknown request %T", req)
	}
}

// DecodeRequest parses a wire request.
func DecodeRequest(data []byte) (Request, error) {
	var m wireMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("agent: decode request: %w", err)
	}
	switch m.Cmd {
	case cmdSave:
		return SaveRequest{}, nil
	case cmdLoad:
		return LoadRequest{SS: orEmpty(m.SS), LS: orEmpty(m.LS)}, nil
	default:
		return nil, fmt.Errorf("agent: unknown command %q", m.Cmd)
	}
}

// EncodeResponse serialises a response to its wire form.
func EncodeResponse(resp Response) ([]byte, error) {
	switch r := resp.(type) {
	case SaveResponse:
		return json.Marshal(saveResponseWire{SS: orEmpty(r.SS), LS: orEmpty(r.LS)})
	case LoadResponse:
		return json.Marshal(wireMessage{Cmd: cmdOK})
	default:
		return nil, fmt.Errorf("agent: unknown response %T", resp)
	}
}

// DecodeResponse parses a wire response. A message tagged "ok" is a
// LoadResponse; an untagged message is a SaveResponse.
func DecodeResponse(data []byte) (Response, error) {
	var m wireMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("agent: decode response: %w", err)
	}
	switch m.Cmd {
	case cmdOK:
		return LoadResponse{}, nil
	case "":
		return SaveResponse{SS: orEmpty(m.SS), LS: orEmpty(m.LS)}, nil
	default:
		return nil, fmt.Errorf("agent: unexpected response command %q", m.Cmd)
	}
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

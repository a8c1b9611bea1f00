package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	maxListSpan   = 100
	maxRecoverRun = 1000
)

type resolveParams struct {
	Index int `json:"index"`
}

type listParams struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type recoverParams struct {
	Start      int `json:"start"`
	MaxScanned int `json:"maxScanned"`
	MaxMissed  int `json:"maxMissed"`
}

type findParams struct {
	Address string `json:"address"`
	Refresh bool   `json:"refresh"`
}

// decodeObjectParam accepts either {...} or a one-element array [{...}].
func decodeObjectParam(raw json.RawMessage, out any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("%w: params are required", errInvalidParams)
	}
	if raw[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil || len(arr) != 1 {
			return fmt.Errorf("%w: expected a single params object", errInvalidParams)
		}
		raw = arr[0]
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

func decodeResolveParams(raw json.RawMessage) (resolveParams, error) {
	var p resolveParams
	if err := decodeObjectParam(raw, &p); err != nil {
		return p, err
	}
	if p.Index < 0 {
		return p, fmt.Errorf("%w: index must be non-negative", errInvalidParams)
	}
	return p, nil
}

func decodeListParams(raw json.RawMessage) (listParams, error) {
	var p listParams
	if err := decodeObjectParam(raw, &p); err != nil {
		return p, err
	}
	if p.From < 0 || p.To <= p.From {
		return p, fmt.Errorf("%w: require 0 <= from < to", errInvalidParams)
	}
	if p.To-p.From > maxListSpan {
		return p, fmt.Errorf("%w: at most %d accounts per call", errInvalidParams, maxListSpan)
	}
	return p, nil
}

// decodeRecoverParams leaves zero values for the service to default.
func decodeRecoverParams(raw json.RawMessage) (recoverParams, error) {
	var p recoverParams
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, nil
	}
	if err := decodeObjectParam(raw, &p); err != nil {
		return p, err
	}
	if p.MaxScanned > maxRecoverRun {
		return p, fmt.Errorf("%w: maxScanned is capped at %d", errInvalidParams, maxRecoverRun)
	}
	return p, nil
}

func decodeFindParams(raw json.RawMessage) (findParams, error) {
	var p findParams
	if err := decodeObjectParam(raw, &p); err != nil {
		return p, err
	}
	p.Address = strings.TrimSpace(p.Address)
	if p.Address == "" {
		return p, fmt.Errorf("%w: address is required", errInvalidParams)
	}
	return p, nil
}

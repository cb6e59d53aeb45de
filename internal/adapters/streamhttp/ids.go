package streamhttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.lsp.dev/jsonrpc2"
)

var errNullRequestID = errors.New("id must not be null")

// wideIDPrefix marks the stand-in string ids given to numeric request ids
// that jsonrpc2 cannot hold as int32.
const wideIDPrefix = "\x00wide-id:"

// idTable remembers the original JSON id of every request whose id was
// replaced before decoding, keyed by the stand-in id.
type idTable map[jsonrpc2.ID]json.RawMessage

// normalize prepares one raw message for jsonrpc2.DecodeMessage. Requests
// with a null id are refused. Integer ids outside the int32 range are swapped
// for a stand-in string id that restore later maps back.
func (ids idTable) normalize(item json.RawMessage, n int) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		// Not an object; DecodeMessage reports the problem.
		return item, nil
	}
	raw, ok := fields["id"]
	if !ok {
		return item, nil
	}
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		if _, isRequest := fields["method"]; isRequest {
			return nil, errNullRequestID
		}
		return item, nil
	}
	if !isJSONInteger(raw) {
		return item, nil
	}
	if _, err := strconv.ParseInt(string(raw), 10, 32); err == nil {
		return item, nil
	}

	alias := fmt.Sprintf("%s%d", wideIDPrefix, n)
	aliasJSON, err := json.Marshal(alias)
	if err != nil {
		return nil, err
	}
	fields["id"] = aliasJSON
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	ids[jsonrpc2.NewStringID(alias)] = append(json.RawMessage(nil), raw...)
	return out, nil
}

// encode marshals resp, putting back the original id when it was replaced.
func (ids idTable) encode(resp *jsonrpc2.Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	original, ok := ids[resp.ID()]
	if !ok {
		return data, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["id"] = original
	return json.Marshal(fields)
}

func isJSONInteger(raw []byte) bool {
	digits := raw
	if len(digits) > 0 && digits[0] == '-' {
		digits = digits[1:]
	}
	if len(digits) == 0 {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

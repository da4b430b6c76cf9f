package frame

import (
	"encoding/json"
)

// Control is a JSON object carried on channel 0. Command-specific fields
// beyond the ones named by the protocol are left in Extra.
type Control struct {
	Command string         `json:"command"`
	Channel *ChannelID     `json:"channel,omitempty"`
	Problem string         `json:"problem,omitempty"`
	Extra   map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside the named fields.
func (c Control) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+3)
	for k, v := range c.Extra {
		out[k] = v
	}
	out["command"] = c.Command
	if c.Channel != nil {
		out["channel"] = *c.Channel
	}
	if c.Problem != "" {
		out["problem"] = c.Problem
	}
	return json.Marshal(out)
}

// ParseControl decodes a control command from a channel-0 payload.
//
// The payload must be a UTF-8 JSON object with a non-empty "command" string
// and, if present, a positive integer "channel". Any other failure
// (non-object JSON, missing/empty command, non-positive channel) is
// ErrProtocol; callers must fail the whole transport.
func ParseControl(payload []byte) (Control, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Control{}, ErrProtocol
	}

	cmdRaw, ok := raw["command"]
	if !ok {
		return Control{}, ErrProtocol
	}
	var command string
	if err := json.Unmarshal(cmdRaw, &command); err != nil || command == "" {
		return Control{}, ErrProtocol
	}
	delete(raw, "command")

	ctrl := Control{Command: command, Extra: map[string]any{}}

	if chRaw, ok := raw["channel"]; ok {
		var n int64
		if err := json.Unmarshal(chRaw, &n); err != nil || n <= 0 || n > int64(^uint32(0)) {
			return Control{}, ErrProtocol
		}
		id := ChannelID(n)
		ctrl.Channel = &id
		delete(raw, "channel")
	}

	if probRaw, ok := raw["problem"]; ok {
		var p string
		if err := json.Unmarshal(probRaw, &p); err == nil {
			ctrl.Problem = p
		}
		delete(raw, "problem")
	}

	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return Control{}, ErrProtocol
		}
		ctrl.Extra[k] = decoded
	}

	return ctrl, nil
}

package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Action is a remote command verb. Matching on the wire is case-insensitive.
type Action string

const (
	ActionStart        Action = "start"
	ActionStop         Action = "stop"
	ActionCharge       Action = "charge"
	ActionEmptyDustbin Action = "emptyDustbin"
	ActionStatus       Action = "status"
	ActionShutdown     Action = "shutdown"
	ActionTeardown     Action = "teardown"
)

// Actions lists every supported action.
var Actions = []Action{
	ActionStart, ActionStop, ActionCharge, ActionEmptyDustbin, ActionStatus, ActionShutdown, ActionTeardown,
}

// Legacy bare tokens. They are matched exactly.
const (
	TokenStart  = "START"
	TokenCharge = "CHARGE"
)

var actionsByFold = func() map[string]Action {
	m := make(map[string]Action, len(Actions))
	for _, a := range Actions {
		m[strings.ToLower(string(a))] = a
	}
	return m
}()

// ParseAction resolves a case-insensitive action name.
func ParseAction(s string) (Action, error) {
	a, ok := actionsByFold[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownAction, s)
	}
	return a, nil
}

// Command is a decoded remote command.
type Command struct {
	Action Action
	// TargetID is the addressed device id, "" for every device.
	TargetID string
	// Legacy is set for commands that arrived as a bare token.
	Legacy bool
}

// Targets reports whether the command applies to the device.
func (c Command) Targets(deviceID int) bool {
	return c.TargetID == "" || c.TargetID == strconv.Itoa(deviceID)
}

// commandID accepts the target id as a JSON string, number or null.
type commandID string

func (id *commandID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = commandID(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id must be a string or a number: %w", err)
		}
		*id = commandID(n.String())
	}
	return nil
}

type wireCommand struct {
	Action *string    `json:"action"`
	ID     *commandID `json:"id"`

	// Message carries the command when it was relayed inside a
	// notification envelope.
	Message *string `json:"message"`
}

// DecodeCommand decodes one raw message. JSON objects are decoded as
// structured commands; anything else must be a legacy token.
func DecodeCommand(raw string) (Command, error) {
	return decodeCommand(raw, true)
}

func decodeCommand(raw string, unwrap bool) (Command, error) {
	trimmed := strings.TrimSpace(raw)

	if !strings.HasPrefix(trimmed, "{") {
		switch trimmed {
		case TokenStart:
			return Command{Action: ActionStart, Legacy: true}, nil
		case TokenCharge:
			return Command{Action: ActionCharge, Legacy: true}, nil
		}
		return Command{}, &DecodeError{Raw: raw, Err: ErrUnknownToken}
	}

	var w wireCommand
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return Command{}, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: %w", ErrDecode, err)}
	}

	if w.Action == nil {
		if unwrap && w.Message != nil {
			return decodeCommand(*w.Message, false)
		}
		return Command{}, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: missing action", ErrDecode)}
	}

	action, err := ParseAction(*w.Action)
	if err != nil {
		return Command{}, &DecodeError{Raw: raw, Err: err}
	}

	cmd := Command{Action: action}
	if w.ID != nil {
		cmd.TargetID = string(*w.ID)
	}
	return cmd, nil
}

// Skippable reports whether a decode error only affects its own message.
// Malformed structured payloads abort the rest of the batch instead.
func Skippable(err error) bool {
	return errors.Is(err, ErrUnknownToken)
}

// EncodeCommand renders c in its wire form.
func EncodeCommand(c Command) ([]byte, error) {
	if c.Legacy {
		switch c.Action {
		case ActionStart:
			return []byte(TokenStart), nil
		case ActionCharge:
			return []byte(TokenCharge), nil
		}
		return nil, fmt.Errorf("action %q has no legacy token", c.Action)
	}

	if _, err := ParseAction(string(c.Action)); err != nil {
		return nil, err
	}

	return json.Marshal(struct {
		Action Action `json:"action"`
		ID     string `json:"id,omitempty"`
	}{c.Action, c.TargetID})
}

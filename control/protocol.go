package control

import (
	"github.com/juju/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/valvemist/vmbackup/backup"
)

// Path is the websocket endpoint served by Server.
const Path = "/vmbackup"

// Request is a command frame sent by a requester.
type Request struct {
	ID      int64
	Command string
	Args    string
}

// Reply answers the Request with the same ID.
type Reply struct {
	ID      int64
	OK      bool
	Message string
}

// Event is a frame broadcast to every requester.
type Event struct {
	Name    string
	Code    backup.Status
	Message string
	Session string
}

// BuildRequestJSON returns the frame for a command.
func BuildRequestJSON(id int64, command, args string) string {
	json := `{}`
	json, _ = sjson.Set(json, "id", id)
	json, _ = sjson.Set(json, "command", command)
	json, _ = sjson.Set(json, "args", args)
	return json
}

// BuildReplyJSON returns the frame answering request id.
func BuildReplyJSON(id int64, result backup.Result) string {
	json := `{}`
	json, _ = sjson.Set(json, "id", id)
	json, _ = sjson.Set(json, "ok", result.OK)
	json, _ = sjson.Set(json, "message", result.Message)
	return json
}

// BuildEventJSON returns the frame for an outbound event.
func BuildEventJSON(sessionID, event string, code backup.Status, msg string) string {
	json := `{}`
	json, _ = sjson.Set(json, "event", event)
	json, _ = sjson.Set(json, "code", uint32(code))
	json, _ = sjson.Set(json, "message", msg)
	json, _ = sjson.Set(json, "session", sessionID)
	return json
}

// ParseRequest reads a command frame.
func ParseRequest(data []byte) (Request, error) {
	if !gjson.ValidBytes(data) {
		return Request{}, errors.NotValidf("request frame %q", data)
	}
	command := gjson.GetBytes(data, "command")
	if command.Type != gjson.String || command.String() == "" {
		return Request{}, errors.NotValidf("request without command")
	}
	return Request{
		ID:      gjson.GetBytes(data, "id").Int(),
		Command: command.String(),
		Args:    gjson.GetBytes(data, "args").String(),
	}, nil
}

// ParseFrame reads a server frame, which is either a Reply or an Event.
func ParseFrame(data []byte) (*Reply, *Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, nil, errors.NotValidf("frame %q", data)
	}
	fields := gjson.GetManyBytes(data, "event", "code", "message", "session", "id", "ok")
	if fields[0].Exists() {
		return nil, &Event{
			Name:    fields[0].String(),
			Code:    backup.Status(fields[1].Uint()),
			Message: fields[2].String(),
			Session: fields[3].String(),
		}, nil
	}
	if !fields[4].Exists() {
		return nil, nil, errors.NotValidf("frame without id or event")
	}
	return &Reply{
		ID:      fields[4].Int(),
		OK:      fields[5].Bool(),
		Message: fields[2].String(),
	}, nil, nil
}

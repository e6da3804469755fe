// Package realtime implements the JSON wire protocol spoken over the
// transport channel: outbound session/audio/response events and inbound
// server events, in the realtime API's text-message encoding.
package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Outbound event types
const (
	TypeSessionUpdate  = "session.update"
	TypeAudioAppend    = "input_audio_buffer.append"
	TypeBufferCommit   = "input_audio_buffer.commit"
	TypeBufferClear    = "input_audio_buffer.clear"
	TypeResponseCreate = "response.create"
)

// Inbound event types
const (
	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"
	TypeItemCreated    = "conversation.item.created"
	TypeTextDelta      = "response.text.delta"
	TypeTextDone       = "response.text.done"
	TypeResponseDone   = "response.done"
	TypeError          = "error"
)

// SessionSettings is the payload of a session.update event. Server-side
// turn detection stays disabled: segmentation is the client's job.
type SessionSettings struct {
	Instructions      string   `json:"instructions"`
	InputAudioFormat  string   `json:"input_audio_format"`
	OutputAudioFormat string   `json:"output_audio_format,omitempty"`
	Modalities        []string `json:"modalities"`
	Temperature       float64  `json:"temperature,omitempty"`
	MaxResponseTokens int      `json:"max_response_output_tokens,omitempty"`
	TurnDetection     *string  `json:"turn_detection"` // always null: explicitly disabled
}

// Usage carries the token counters from a terminal response event.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ServerEvent is one parsed inbound event. Only the fields relevant to
// the event's type are populated.
type ServerEvent struct {
	Type         string
	Delta        string // response.text.delta
	Text         string // response.text.done: authoritative full text
	Usage        *Usage // response.done
	ErrorMessage string // error
}

// SessionUpdate builds a session.update message.
func SessionUpdate(settings SessionSettings) ([]byte, error) {
	msg := struct {
		Type    string          `json:"type"`
		Session SessionSettings `json:"session"`
	}{
		Type:    TypeSessionUpdate,
		Session: settings,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session update: %w", err)
	}
	return data, nil
}

// AppendAudio builds an input_audio_buffer.append message carrying the
// base64-encoded little-endian 16-bit PCM mono frame.
func AppendAudio(pcm []byte) ([]byte, error) {
	msg := struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}{
		Type:  TypeAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audio append: %w", err)
	}
	return data, nil
}

// CommitBuffer builds an input_audio_buffer.commit message.
func CommitBuffer() ([]byte, error) {
	return marshalBare(TypeBufferCommit)
}

// ClearBuffer builds an input_audio_buffer.clear message.
func ClearBuffer() ([]byte, error) {
	return marshalBare(TypeBufferClear)
}

// CreateResponse builds a response.create message. withAudio selects the
// text+audio modality pair instead of text only.
func CreateResponse(withAudio bool) ([]byte, error) {
	modalities := []string{"text"}
	if withAudio {
		modalities = []string{"text", "audio"}
	}
	msg := struct {
		Type     string `json:"type"`
		Response struct {
			Modalities []string `json:"modalities"`
		} `json:"response"`
	}{Type: TypeResponseCreate}
	msg.Response.Modalities = modalities

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response create: %w", err)
	}
	return data, nil
}

func marshalBare(eventType string) ([]byte, error) {
	data, err := json.Marshal(struct {
		Type string `json:"type"`
	}{Type: eventType})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", eventType, err)
	}
	return data, nil
}

// ParseServerEvent parses one inbound message. An unknown event type is
// returned as-is with only Type set; callers ignore it, never fail.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var raw struct {
		Type     string `json:"type"`
		Delta    string `json:"delta"`
		Text     string `json:"text"`
		Response struct {
			Usage *Usage `json:"usage"`
		} `json:"response"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse server event: %w", err)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("server event missing type field")
	}

	event := &ServerEvent{Type: raw.Type}
	switch raw.Type {
	case TypeTextDelta:
		event.Delta = raw.Delta
	case TypeTextDone:
		event.Text = raw.Text
	case TypeResponseDone:
		event.Usage = raw.Response.Usage
	case TypeError:
		event.ErrorMessage = raw.Error.Message
	}

	return event, nil
}

package session

import (
	"context"
	"net/http"

	"github.com/voxlate/voxlate/internal/storage/sqlite"
)

// ConnectionKind enumerates session connection states.
type ConnectionKind int

const (
	ConnDisconnected ConnectionKind = iota
	ConnConnecting
	ConnConnected
	ConnError
)

func (k ConnectionKind) String() string {
	switch k {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnError:
		return "error"
	default:
		return "unknown"
	}
}

// ConnectionState is the tagged session connection state; Reason is set
// for ConnError.
type ConnectionState struct {
	Kind   ConnectionKind
	Reason string
}

// UsageCounters are cumulative token counters, incremented on every
// terminal response event and reset only by explicit user action.
type UsageCounters struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Snapshot is a point-in-time copy of session state for external readers.
type Snapshot struct {
	Connection     ConnectionState
	Capturing      bool
	Finalizing     bool
	Speaking       bool
	Transcript     string
	Translation    string
	Usage          UsageCounters
	InputLanguage  string
	TargetLanguage string
}

// History is the persistence collaborator for finalized utterances.
type History interface {
	Persist(record *sqlite.TranscriptionRecord) error
	LoadAll() ([]*sqlite.TranscriptionRecord, error)
	Clear() error
}

// CredentialSource supplies the API credential; its storage mechanism is
// external.
type CredentialSource interface {
	APIKey() (string, error)
}

// Transport is the duplex channel the session speaks over. Satisfied by
// transport.Channel; tests substitute fakes.
type Transport interface {
	Connect(ctx context.Context, endpoint string, header http.Header) error
	Send(payload []byte) error
	Disconnect() error
}

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

var ErrNotFound = errors.New("chat not found")

// Content is either free text or text with an attached audio payload and a
// timestamp. It marshals to a JSON string in the plain form and to an object
// otherwise. Object keeps content that arrived as an object in that shape,
// so {"text":"hi"} reads back as an object and not as "hi".
type Content struct {
	Text      string
	Audio     string
	Timestamp time.Time
	Object    bool
}

// Composite reports whether c marshals as an object.
func (c Content) Composite() bool {
	return c.Object || c.Audio != "" || !c.Timestamp.IsZero()
}

type contentObject struct {
	Text      string     `json:"text"`
	Audio     string     `json:"audio,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (c Content) MarshalJSON() ([]byte, error) {
	if !c.Composite() {
		return json.Marshal(c.Text)
	}
	obj := contentObject{Text: c.Text, Audio: c.Audio}
	if !c.Timestamp.IsZero() {
		ts := c.Timestamp
		obj.Timestamp = &ts
	}
	return json.Marshal(obj)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return errors.New("content is required")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case '{':
		var obj contentObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*c = Content{Text: obj.Text, Audio: obj.Audio, Object: true}
		if obj.Timestamp != nil {
			c.Timestamp = obj.Timestamp.UTC()
		}
		return nil
	default:
		return fmt.Errorf("content must be a string or an object, got %s", string(data[:1]))
	}
}

// Message is one immutable turn in a session.
type Message struct {
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage stamps a message with the current time.
func NewMessage(role Role, content Content) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// Session is a persisted conversation with its ordered message log.
type Session struct {
	ID        string    `json:"_id"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// Summary is the list view of a session; message bodies are omitted.
type Summary struct {
	ID        string    `json:"_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store holds chat sessions keyed by an opaque, store-assigned identifier.
//
// Append returns false without an error when id is malformed or does not
// resolve to a session. Errors are reserved for store unavailability.
type Store interface {
	Create(ctx context.Context) (string, error)
	Append(ctx context.Context, id string, msg Message) (bool, error)
	Get(ctx context.Context, id string) (Session, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

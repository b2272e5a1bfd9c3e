// Package protocol defines the control messages a page posts to the worker
// and the acknowledgement the worker sends back.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/briangreenhill/offlinesw/internal/model"
)

// Kind tags the payload of a Message.
type Kind int

const (
	KindUnknown Kind = iota
	KindFavorite
	KindReview
)

var ErrUnknownKind = errors.New("unknown message type")

func (k Kind) String() string {
	switch k {
	case KindFavorite:
		return model.TypeFavorite
	case KindReview:
		return model.TypeReview
	default:
		return "unknown"
	}
}

// ParseKind maps the wire "type" string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case model.TypeFavorite:
		return KindFavorite, nil
	case model.TypeReview:
		return KindReview, nil
	default:
		return KindUnknown, fmt.Errorf("%w %q", ErrUnknownKind, s)
	}
}

// Message is a pending write handed from the page to the worker. Exactly one
// payload matching Kind is set.
type Message struct {
	Kind     Kind
	Favorite *model.Favorite
	Review   *model.Review
}

// FavoriteMessage wraps a favorite toggle.
func FavoriteMessage(f model.Favorite) Message {
	f.Type = model.TypeFavorite
	return Message{Kind: KindFavorite, Favorite: &f}
}

// ReviewMessage wraps an offline review.
func ReviewMessage(r model.Review) Message {
	r.Type = model.TypeReview
	return Message{Kind: KindReview, Review: &r}
}

// Validate checks the payload matches the kind.
func (m Message) Validate() error {
	switch m.Kind {
	case KindFavorite:
		if m.Favorite == nil {
			return errors.New("favorite message without payload")
		}
		if m.Favorite.ID <= 0 {
			return errors.New("favorite message without restaurant id")
		}
	case KindReview:
		if m.Review == nil {
			return errors.New("review message without payload")
		}
		if m.Review.RestaurantID <= 0 {
			return errors.New("review message without restaurant id")
		}
	default:
		return ErrUnknownKind
	}
	return nil
}

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var payload any
	switch m.Kind {
	case KindFavorite:
		payload = m.Favorite
	case KindReview:
		payload = m.Review
	default:
		return nil, ErrUnknownKind
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Type: m.Kind.String(), Payload: raw})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	kind, err := ParseKind(w.Type)
	if err != nil {
		return err
	}
	if len(w.Payload) == 0 || string(w.Payload) == "null" {
		return fmt.Errorf("%s message without payload", kind)
	}

	*m = Message{Kind: kind}
	switch kind {
	case KindFavorite:
		var f model.Favorite
		if err := json.Unmarshal(w.Payload, &f); err != nil {
			return fmt.Errorf("decode favorite: %w", err)
		}
		f.Type = model.TypeFavorite
		m.Favorite = &f
	case KindReview:
		var r model.Review
		if err := json.Unmarshal(w.Payload, &r); err != nil {
			return fmt.Errorf("decode review: %w", err)
		}
		r.Type = model.TypeReview
		m.Review = &r
	}
	return nil
}

// Ack reports whether the worker persisted a Message.
type Ack struct {
	OK    bool   `json:"ok"`
	Type  string `json:"type"`
	Key   string `json:"key,omitempty"`
	Error string `json:"error,omitempty"`
}

// Accepted acknowledges a persisted message stored under key.
func Accepted(kind Kind, key string) Ack {
	return Ack{OK: true, Type: kind.String(), Key: key}
}

// Rejected reports that a message was not persisted.
func Rejected(kind Kind, err error) Ack {
	return Ack{OK: false, Type: kind.String(), Error: err.Error()}
}

// Err converts a negative ack into an error.
func (a Ack) Err() error {
	if a.OK {
		return nil
	}
	if a.Error == "" {
		return fmt.Errorf("worker rejected %s message", a.Type)
	}
	return fmt.Errorf("worker rejected %s message: %s", a.Type, a.Error)
}

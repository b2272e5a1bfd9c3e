package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/offlinesw/internal/model"
)

func TestDecodeMessages(t *testing.T) {
	tests := []struct {
		name string
		in   string
		kind Kind
	}{
		{"favorite", `{"type":"favorite","payload":{"id":"3","isFavorited":true,"type":"favorite"}}`, KindFavorite},
		{"review", `{"type":"review","payload":{"name":"A","restaurant_id":"3","rating":"5","comments":"Great","createdAt":1700000000000,"type":"review","id":"r-1"}}`, KindReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Message
			require.NoError(t, json.Unmarshal([]byte(tt.in), &m))
			assert.Equal(t, tt.kind, m.Kind)
			require.NoError(t, m.Validate())

			switch m.Kind {
			case KindFavorite:
				assert.Equal(t, model.ID(3), m.Favorite.ID)
				assert.True(t, m.Favorite.IsFavorited)
				assert.Nil(t, m.Review)
			case KindReview:
				assert.Equal(t, model.ID(3), m.Review.RestaurantID)
				assert.Equal(t, model.Rating(5), m.Review.Rating)
				assert.Equal(t, "r-1", m.Review.ID)
				assert.Equal(t, model.TypeReview, m.Review.Type)
				assert.Nil(t, m.Favorite)
			default:
				t.Fatalf("unexpected kind %v", m.Kind)
			}
		})
	}
}

func TestDecodeReviewWithNumericID(t *testing.T) {
	in := `{"type":"review","payload":{"name":"A","restaurant_id":3,"rating":4,"comments":"ok","createdAt":1700000000000,"id":1700000000000}}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(in), &m))
	require.NoError(t, m.Validate())
	assert.Equal(t, "1700000000000", m.Review.ID)
	assert.Equal(t, int64(1700000000000), m.Review.CreatedAt)
	assert.Equal(t, model.ID(3), m.Review.RestaurantID)

	err := json.Unmarshal([]byte(`{"type":"review","payload":{"name":"A","id":true}}`), &m)
	assert.Error(t, err)
}

func TestDecodeRejectsBadMessages(t *testing.T) {
	tests := map[string]string{
		"unknown type":    `{"type":"bookmark","payload":{}}`,
		"missing payload": `{"type":"review"}`,
		"null payload":    `{"type":"favorite","payload":null}`,
		"bad payload":     `{"type":"review","payload":{"rating":"five"}}`,
		"not json":        `type=review`,
	}
	for name, in := range tests {
		var m Message
		assert.Error(t, json.Unmarshal([]byte(in), &m), name)
	}

	var m Message
	err := json.Unmarshal([]byte(`{"type":"bookmark","payload":{}}`), &m)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestEncodeRoundTripKeepsTag(t *testing.T) {
	in := ReviewMessage(model.Review{RestaurantID: 2, Name: "B", Rating: 4, Comments: "ok", ID: "k"})
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"review"`)

	var out Message
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	_, err = json.Marshal(Message{})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestValidate(t *testing.T) {
	assert.Error(t, Message{Kind: KindFavorite}.Validate())
	assert.Error(t, FavoriteMessage(model.Favorite{}).Validate())
	assert.Error(t, ReviewMessage(model.Review{}).Validate())
	assert.ErrorIs(t, Message{}.Validate(), ErrUnknownKind)
	assert.NoError(t, FavoriteMessage(model.Favorite{ID: 1}).Validate())
}

func TestAck(t *testing.T) {
	ok := Accepted(KindReview, "k1")
	assert.NoError(t, ok.Err())
	assert.Equal(t, "review", ok.Type)

	bad := Rejected(KindFavorite, errors.New("disk full"))
	assert.False(t, bad.OK)
	assert.EqualError(t, bad.Err(), "worker rejected favorite message: disk full")
	assert.EqualError(t, Ack{Type: "review"}.Err(), "worker rejected review message")
}

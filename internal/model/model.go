// Package model holds the restaurant-review data the offline layer moves
// around: restaurants, reviews and favorite toggles.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	TypeFavorite = "favorite"
	TypeReview   = "review"
)

// ID identifies a restaurant. Form fields deliver it as a string, the API as
// a number; both decode.
type ID int

func (id *ID) UnmarshalJSON(b []byte) error {
	n, err := flexInt(b)
	if err != nil {
		return fmt.Errorf("restaurant id: %w", err)
	}
	*id = ID(n)
	return nil
}

func (id ID) String() string { return strconv.Itoa(int(id)) }

// Rating is a 1-5 star score. Accepts "5" or 5.
type Rating int

func (r *Rating) UnmarshalJSON(b []byte) error {
	n, err := flexInt(b)
	if err != nil {
		return fmt.Errorf("rating: %w", err)
	}
	*r = Rating(n)
	return nil
}

// Bool decodes true/false as well as the "true"/"false" strings the API
// stores for is_favorite.
type Bool bool

func (b *Bool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	switch strings.ToLower(s) {
	case "true":
		*b = true
	case "false", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid bool %s", data)
	}
	return nil
}

func flexInt(b []byte) (int, error) {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return 0, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return 0, nil
		}
	}
	return strconv.Atoi(s)
}

// LatLng is a map position.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Restaurant is the subset of the API restaurant document the offline layer
// and the CLI read. The full document is cached verbatim.
type Restaurant struct {
	ID           ID     `json:"id"`
	Name         string `json:"name"`
	Neighborhood string `json:"neighborhood"`
	CuisineType  string `json:"cuisine_type"`
	Address      string `json:"address,omitempty"`
	Photograph   string `json:"photograph,omitempty"`
	LatLng       LatLng `json:"latlng"`
	IsFavorite   Bool   `json:"is_favorite"`
}

// Review is a restaurant review. Reviews written offline carry a client
// generated ID and Type "review" until the API assigns its own.
type Review struct {
	ID           string `json:"id,omitempty"`
	RestaurantID ID     `json:"restaurant_id"`
	Name         string `json:"name"`
	Rating       Rating `json:"rating"`
	Comments     string `json:"comments"`
	CreatedAt    int64  `json:"createdAt,omitempty"`
	Type         string `json:"type,omitempty"`
}

// UnmarshalJSON accepts the id as a string or as the numeric timestamp pages
// assign to reviews written offline.
func (r *Review) UnmarshalJSON(b []byte) error {
	type plain Review
	aux := struct {
		*plain
		ID json.RawMessage `json:"id"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	id, err := flexString(aux.ID)
	if err != nil {
		return fmt.Errorf("review id: %w", err)
	}
	r.ID = id
	return nil
}

func flexString(b json.RawMessage) (string, error) {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "" || s == "null":
		return "", nil
	case strings.HasPrefix(s, `"`):
		var str string
		err := json.Unmarshal(b, &str)
		return str, err
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Upstream returns the fields the API accepts on POST /reviews.
func (r Review) Upstream() map[string]any {
	return map[string]any{
		"restaurant_id": int(r.RestaurantID),
		"name":          r.Name,
		"rating":        int(r.Rating),
		"comments":      r.Comments,
	}
}

// Favorite is a favorite toggle made while offline.
type Favorite struct {
	ID          ID     `json:"id"`
	IsFavorited bool   `json:"isFavorited"`
	Type        string `json:"type"`
}

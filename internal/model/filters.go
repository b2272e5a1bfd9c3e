package model

import (
	"fmt"
	"sort"
)

// All matches every cuisine or neighborhood in FilterRestaurants.
const All = "all"

// FilterRestaurants keeps restaurants matching cuisine and neighborhood.
// Either argument may be All (or empty) to skip that filter.
func FilterRestaurants(list []Restaurant, cuisine, neighborhood string) []Restaurant {
	out := make([]Restaurant, 0, len(list))
	for _, r := range list {
		if cuisine != "" && cuisine != All && r.CuisineType != cuisine {
			continue
		}
		if neighborhood != "" && neighborhood != All && r.Neighborhood != neighborhood {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Neighborhoods returns the sorted distinct neighborhoods.
func Neighborhoods(list []Restaurant) []string {
	return distinct(list, func(r Restaurant) string { return r.Neighborhood })
}

// Cuisines returns the sorted distinct cuisine types.
func Cuisines(list []Restaurant) []string {
	return distinct(list, func(r Restaurant) string { return r.CuisineType })
}

func distinct(list []Restaurant, field func(Restaurant) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range list {
		v := field(r)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// RestaurantURL is the page URL of a restaurant.
func RestaurantURL(r Restaurant) string {
	return fmt.Sprintf("./restaurant.html?id=%d", r.ID)
}

// ImageURL is the image URL of a restaurant photograph; format defaults to jpg.
func ImageURL(r Restaurant, format string) string {
	if format == "" {
		format = "jpg"
	}
	return fmt.Sprintf("/img/%s.%s", r.Photograph, format)
}

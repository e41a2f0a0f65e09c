package domain

import "strings"

// Image is a selectable storybook picture.
type Image struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Title       string `json:"title"`
}

var catalog = []Image{
	{
		ID:          "forest",
		URL:         "https://images.unsplash.com/photo-1517331156700-0c3e9c09a161?w=800&auto=format&fit=crop",
		Description: "A magical forest with friendly animals - a curious fox, wise owl, and playful rabbit having a picnic under glowing mushrooms and twinkling fairy lights",
		Title:       "Forest Friends Picnic",
	},
	{
		ID:          "space",
		URL:         "https://images.unsplash.com/photo-1507003211169-0a1dd7228f2d?w=800&auto=format&fit=crop",
		Description: "A young astronaut floating in space near a colorful planet with rings, surrounded by friendly alien creatures in tiny spaceships",
		Title:       "Space Adventure",
	},
	{
		ID:          "ocean",
		URL:         "https://images.unsplash.com/photo-1535572290543-960a8046f5af?w=800&auto=format&fit=crop",
		Description: "An underwater castle made of coral with mermaids, seahorses, and glowing jellyfish creating a magical ocean kingdom",
		Title:       "Ocean Kingdom",
	},
}

// Catalog returns the selectable images in display order.
func Catalog() []Image {
	out := make([]Image, len(catalog))
	copy(out, catalog)
	return out
}

// FindImage looks an image up by id or, failing that, by case-insensitive title.
func FindImage(key string) (Image, bool) {
	key = strings.TrimSpace(key)
	for _, img := range catalog {
		if img.ID == key {
			return img, true
		}
	}
	for _, img := range catalog {
		if strings.EqualFold(img.Title, key) {
			return img, true
		}
	}
	return Image{}, false
}

// Package outfit builds outfit suggestions from closet items. It is pure: it
// never touches usage counts or subscription state; callers gate it first.
package outfit

import (
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/ybdigitall/closai/pkg/entitlement"
)

// ItemType is the kind of clothing item.
type ItemType string

const (
	TypeTop       ItemType = "top"
	TypeTShirt    ItemType = "tshirt"
	TypeShirt     ItemType = "shirt"
	TypeDress     ItemType = "dress"
	TypeJeans     ItemType = "jeans"
	TypeSkirt     ItemType = "skirt"
	TypeJacket    ItemType = "jacket"
	TypeCoat      ItemType = "coat"
	TypeShoes     ItemType = "shoes"
	TypeSneakers  ItemType = "sneakers"
	TypeBag       ItemType = "bag"
	TypeAccessory ItemType = "accessory"
	TypeSwimwear  ItemType = "swimwear"
	TypeHat       ItemType = "hat"
)

// ItemTypes lists every item type.
var ItemTypes = []ItemType{
	TypeTop, TypeTShirt, TypeShirt, TypeDress, TypeJeans, TypeSkirt, TypeJacket,
	TypeCoat, TypeShoes, TypeSneakers, TypeBag, TypeAccessory, TypeSwimwear, TypeHat,
}

// ParseItemType resolves a type name, case-insensitively.
func ParseItemType(s string) (ItemType, bool) {
	t := ItemType(strings.ToLower(strings.TrimSpace(s)))
	return t, slices.Contains(ItemTypes, t)
}

var typeNamesTR = map[ItemType]string{
	TypeTop:       "Üst",
	TypeTShirt:    "Tişört",
	TypeShirt:     "Gömlek",
	TypeDress:     "Elbise",
	TypeJeans:     "Jean",
	TypeSkirt:     "Etek",
	TypeJacket:    "Ceket / Mont",
	TypeCoat:      "Kaban / Dış Giyim",
	TypeShoes:     "Ayakkabı",
	TypeSneakers:  "Spor Ayakkabı",
	TypeBag:       "Çanta",
	TypeAccessory: "Aksesuar",
	TypeSwimwear:  "Plaj / Yazlık",
	TypeHat:       "Şapka",
}

// DisplayName returns the Turkish name for Turkish, otherwise a capitalised English name.
func (t ItemType) DisplayName(lang entitlement.Language) string {
	if lang == entitlement.LanguageTurkish {
		if name, ok := typeNamesTR[t]; ok {
			return name
		}
	}
	if t == TypeTShirt {
		return "T-shirt"
	}
	s := string(t)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Style is the detected style of an item.
type Style string

const (
	StyleCasual Style = "casual"
	StyleFormal Style = "formal"
	StyleSporty Style = "sporty"
)

// OutfitStyle is the look a user asks for.
type OutfitStyle string

const (
	OutfitCasual      OutfitStyle = "casual"
	OutfitFormal      OutfitStyle = "formal"
	OutfitSporty      OutfitStyle = "sporty"
	OutfitElegant     OutfitStyle = "elegant"
	OutfitTrendy      OutfitStyle = "trendy"
	OutfitComfortable OutfitStyle = "comfortable"
)

// OutfitStyles lists every requestable style.
var OutfitStyles = []OutfitStyle{OutfitCasual, OutfitFormal, OutfitSporty, OutfitElegant, OutfitTrendy, OutfitComfortable}

// ParseOutfitStyle resolves a style name, case-insensitively.
func ParseOutfitStyle(s string) (OutfitStyle, bool) {
	st := OutfitStyle(strings.ToLower(strings.TrimSpace(s)))
	return st, slices.Contains(OutfitStyles, st)
}

// ItemStyle maps a requested look to the item style it selects.
func (s OutfitStyle) ItemStyle() Style {
	switch s {
	case OutfitFormal, OutfitElegant:
		return StyleFormal
	case OutfitSporty, OutfitTrendy:
		return StyleSporty
	default:
		return StyleCasual
	}
}

// Colors recognised in free-text descriptions. Multi-word names come first so
// "light blue" wins over "blue".
var Colors = []string{
	"light gray", "dark gray", "dark red", "light pink", "hot pink", "light blue",
	"dark blue", "light green", "dark green", "light yellow", "light purple",
	"light brown", "dark brown",
	"black", "white", "gray", "red", "pink", "blue", "navy", "green", "yellow",
	"orange", "purple", "brown", "beige", "cream", "gold", "silver", "maroon",
}

// Item is a closet item. Empty Color or Style means undetected, which matches
// any filter.
type Item struct {
	ID      string    `json:"id"`
	Type    ItemType  `json:"type"`
	Name    string    `json:"name"`
	Color   string    `json:"color,omitempty"`
	Style   Style     `json:"style,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Preferences are the user's inputs to a suggestion.
type Preferences struct {
	Style       OutfitStyle `json:"style,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Depth controls which preferences are honoured.
type Depth int

const (
	// DepthFree applies only the preferred style.
	DepthFree Depth = iota
	// DepthPremium also reads the free-text description for style and colour.
	DepthPremium
)

// Suggestion is a generated outfit.
type Suggestion struct {
	Items       []Item  `json:"items"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

var genericDescriptions = []string{
	"Perfect for a day out with friends!",
	"Great choice for any occasion.",
	"This combination looks amazing together.",
	"A stylish and comfortable outfit.",
	"You'll look fantastic in this!",
	"This outfit perfectly matches your style.",
	"A great combination for today's weather.",
	"This look is both trendy and timeless.",
}

var styleDescriptions = map[OutfitStyle]string{
	OutfitCasual:      "A relaxed and comfortable casual look.",
	OutfitFormal:      "An elegant and professional formal outfit.",
	OutfitSporty:      "Perfect for an active and energetic day.",
	OutfitElegant:     "A sophisticated and refined ensemble.",
	OutfitTrendy:      "A fashionable and contemporary style.",
	OutfitComfortable: "Comfortable yet stylish for all-day wear.",
}

// Suggest picks an outfit from items. The same seed and inputs always produce
// the same suggestion. It returns false when nothing could be picked.
func Suggest(items []Item, prefs Preferences, seed uint64, depth Depth) (Suggestion, bool) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	candidates := items
	if prefs.Style != "" {
		candidates = filterStyle(items, prefs.Style.ItemStyle())
	}
	if depth == DepthPremium && strings.TrimSpace(prefs.Description) != "" {
		candidates = filterDescription(items, prefs.Description)
	}

	var picked []Item
	if top, ok := pick(rng, candidates, isTop); ok {
		picked = append(picked, top)
		if top.Type != TypeDress {
			if bottom, ok := pick(rng, candidates, isBottom); ok {
				picked = append(picked, bottom)
			}
		}
	}
	if shoes, ok := pick(rng, candidates, isShoes); ok {
		picked = append(picked, shoes)
	}
	if acc, ok := pick(rng, candidates, isAccessory); ok && rng.IntN(2) == 0 {
		picked = append(picked, acc)
	}
	if len(picked) == 0 {
		return Suggestion{}, false
	}

	desc, ok := styleDescriptions[prefs.Style]
	if !ok {
		desc = genericDescriptions[rng.IntN(len(genericDescriptions))]
	}
	return Suggestion{
		Items:       picked,
		Description: desc,
		Confidence:  Confidence(picked),
	}, true
}

// Confidence scores completeness: 0.5 base, +0.2 top, +0.2 bottom (a dress
// counts as both), +0.1 shoes.
func Confidence(items []Item) float64 {
	confidence := 0.5
	if slices.ContainsFunc(items, isTop) {
		confidence += 0.2
	}
	if slices.ContainsFunc(items, func(it Item) bool { return isBottom(it) || it.Type == TypeDress }) {
		confidence += 0.2
	}
	if slices.ContainsFunc(items, isShoes) {
		confidence += 0.1
	}
	return min(confidence, 1.0)
}

func isTop(it Item) bool {
	switch it.Type {
	case TypeTop, TypeTShirt, TypeShirt, TypeDress:
		return true
	}
	return false
}

func isBottom(it Item) bool {
	return it.Type == TypeJeans || it.Type == TypeSkirt
}

func isShoes(it Item) bool {
	return it.Type == TypeShoes || it.Type == TypeSneakers
}

func isAccessory(it Item) bool {
	return it.Type == TypeAccessory || it.Type == TypeBag || it.Type == TypeHat
}

func pick(rng *rand.Rand, items []Item, match func(Item) bool) (Item, bool) {
	var matches []Item
	for _, it := range items {
		if match(it) {
			matches = append(matches, it)
		}
	}
	if len(matches) == 0 {
		return Item{}, false
	}
	return matches[rng.IntN(len(matches))], true
}

func filterStyle(items []Item, style Style) []Item {
	var out []Item
	for _, it := range items {
		if it.Style == "" || it.Style == style {
			out = append(out, it)
		}
	}
	return out
}

// filterDescription narrows items by style and colour keywords in a free-text
// description. If nothing survives, all items are returned.
func filterDescription(items []Item, description string) []Item {
	lower := strings.ToLower(description)
	filtered := items

	switch {
	case containsAny(lower, "formal", "elegant", "business"):
		filtered = filterStyle(items, StyleFormal)
	case containsAny(lower, "casual", "relaxed", "comfortable"):
		filtered = filterStyle(items, StyleCasual)
	case containsAny(lower, "sport", "gym", "active"):
		filtered = filterStyle(items, StyleSporty)
	}

	for _, color := range Colors {
		if !strings.Contains(lower, color) {
			continue
		}
		var byColor []Item
		for _, it := range filtered {
			if it.Color == "" || strings.EqualFold(it.Color, color) {
				byColor = append(byColor, it)
			}
		}
		filtered = byColor
		break
	}

	if len(filtered) == 0 {
		return items
	}
	return filtered
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

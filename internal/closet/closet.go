// Package closet is the call-site facade for wardrobe actions. Every gated
// action goes through the gate evaluator, then commits through the usage
// ledger, and denials are left pending for the paywall.
package closet

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ybdigitall/closai/internal/clock"
	"github.com/ybdigitall/closai/internal/conversion"
	"github.com/ybdigitall/closai/internal/gate"
	"github.com/ybdigitall/closai/internal/kvstore"
	"github.com/ybdigitall/closai/internal/outfit"
	"github.com/ybdigitall/closai/internal/usage"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

var (
	ErrInvalidItem  = errors.New("invalid clothing item")
	ErrItemNotFound = errors.New("clothing item not found")
	ErrNoSuggestion = errors.New("not enough items for an outfit")
	ErrInvalidTheme = errors.New("unknown theme")
)

// DeniedError is returned when the gate refuses an action.
type DeniedError struct {
	Decision entitlement.GateDecision
}

func (e *DeniedError) Error() string {
	return e.Decision.Message(entitlement.LanguageEnglish)
}

// Decision extracts the gate decision from a denial, if err is one.
func Decision(err error) (entitlement.GateDecision, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Decision, true
	}
	return entitlement.GateDecision{}, false
}

// Theme is the app appearance.
type Theme string

const (
	ThemeAuto  Theme = "auto"
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ParseTheme resolves a theme name, case-insensitively.
func ParseTheme(s string) (Theme, error) {
	t := Theme(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case ThemeAuto, ThemeLight, ThemeDark:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTheme, s)
}

// NewItem is the input for AddItem.
type NewItem struct {
	Type  string `validate:"required"`
	Name  string `validate:"max=80"`
	Color string `validate:"omitempty,max=32"`
	Style string `validate:"omitempty,oneof=casual formal sporty"`
}

var validate = validator.New()

// Persisted keys.
const (
	KeyItems     = "closet.items"
	KeyFavorites = "closet.favorites"
	KeyTheme     = "closet.theme"
)

// Closet holds the user's items, favourite outfits and theme in memory.
type Closet struct {
	mu        sync.RWMutex
	items     []outfit.Item
	favorites []outfit.Suggestion
	theme     Theme

	gate     *gate.Evaluator
	ledger   *usage.Ledger
	premium  usage.PremiumChecker
	recorder *conversion.Recorder
	clock    clock.Clock
	kv       kvstore.Store
}

// New wires a closet. recorder may be nil.
func New(evaluator *gate.Evaluator, ledger *usage.Ledger, premium usage.PremiumChecker, recorder *conversion.Recorder, clk clock.Clock) *Closet {
	if clk == nil {
		clk = clock.System{}
	}
	return &Closet{
		theme:    ThemeAuto,
		gate:     evaluator,
		ledger:   ledger,
		premium:  premium,
		recorder: recorder,
		clock:    clk,
	}
}

func (c *Closet) deny(d entitlement.GateDecision, surface string) error {
	c.ledger.SetPendingReason(d)
	c.recorder.Track(conversion.EventLimitBlocked, surface, string(entitlement.FeatureForReason(d)))
	return &DeniedError{Decision: d}
}

func (c *Closet) depth() outfit.Depth {
	if c.premium != nil && c.premium.IsPremium() {
		return outfit.DepthPremium
	}
	return outfit.DepthFree
}

// AddItem validates and stores a new item, counting it against the clothing quota.
func (c *Closet) AddItem(in NewItem) (outfit.Item, error) {
	if err := validate.Struct(in); err != nil {
		return outfit.Item{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	itemType, ok := outfit.ParseItemType(in.Type)
	if !ok {
		return outfit.Item{}, fmt.Errorf("%w: unknown type %q", ErrInvalidItem, in.Type)
	}

	if d := c.gate.Evaluate(gate.AddClothing()); !d.Allowed {
		return outfit.Item{}, c.deny(d, conversion.SurfaceCloset)
	}
	if !c.ledger.RecordClothingAdded() {
		// Lost a race with another add since the evaluation.
		return outfit.Item{}, c.deny(entitlement.Deny(entitlement.ReasonClothingLimitReached, ""), conversion.SurfaceCloset)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = itemType.DisplayName(entitlement.LanguageEnglish)
	}
	item := outfit.Item{
		ID:      uuid.NewString(),
		Type:    itemType,
		Name:    name,
		Color:   strings.ToLower(strings.TrimSpace(in.Color)),
		Style:   outfit.Style(in.Style),
		AddedAt: c.clock.Now(),
	}

	c.mu.Lock()
	c.items = append(c.items, item)
	c.persistLocked()
	c.mu.Unlock()

	log.Debug().Str("id", item.ID).Str("type", string(item.Type)).Msg("Clothing item added")
	return item, nil
}

// RemoveItem deletes an item and releases its quota slot.
func (c *Closet) RemoveItem(id string) error {
	c.mu.Lock()
	idx := slices.IndexFunc(c.items, func(it outfit.Item) bool { return it.ID == id })
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	c.items = slices.Delete(c.items, idx, idx+1)
	c.persistLocked()
	c.mu.Unlock()

	c.ledger.RecordClothingRemoved()
	return nil
}

// Items returns a copy of the closet contents in insertion order.
func (c *Closet) Items() []outfit.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

// Attach loads the closet from kv and persists every later change there. The
// ledger's clothing count is not touched; it is persisted separately.
func (c *Closet) Attach(kv kvstore.Store) error {
	var (
		items     []outfit.Item
		favorites []outfit.Suggestion
	)
	if err := getJSON(kv, KeyItems, &items); err != nil {
		return err
	}
	if err := getJSON(kv, KeyFavorites, &favorites); err != nil {
		return err
	}
	rawTheme, err := kvstore.GetString(kv, KeyTheme, string(ThemeAuto))
	if err != nil {
		return err
	}
	theme, err := ParseTheme(rawTheme)
	if err != nil {
		theme = ThemeAuto
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv = kv
	c.items = items
	c.favorites = favorites
	c.theme = theme
	return nil
}

func getJSON(kv kvstore.Store, key string, v any) error {
	raw, ok, err := kv.Get(key)
	if err != nil || !ok || raw == "" {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (c *Closet) persistLocked() {
	if c.kv == nil {
		return
	}
	items, err := json.Marshal(c.items)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode closet items")
		return
	}
	favorites, err := json.Marshal(c.favorites)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode favourite outfits")
		return
	}
	if err := c.kv.Set(map[string]string{
		KeyItems:     string(items),
		KeyFavorites: string(favorites),
		KeyTheme:     string(c.theme),
	}); err != nil {
		log.Error().Err(err).Msg("Failed to persist closet")
	}
}

// GenerateOutfit spends one daily generation and suggests an outfit. The
// generation is counted even when the closet cannot produce an outfit.
func (c *Closet) GenerateOutfit(prefs outfit.Preferences, seed uint64) (outfit.Suggestion, error) {
	if d := c.gate.Evaluate(gate.GenerateOutfit()); !d.Allowed {
		return outfit.Suggestion{}, c.deny(d, conversion.SurfaceOutfits)
	}
	if !c.ledger.RecordOutfitGenerated() {
		return outfit.Suggestion{}, c.deny(entitlement.Deny(entitlement.ReasonDailyGenerationLimitReached, ""), conversion.SurfaceOutfits)
	}

	suggestion, ok := outfit.Suggest(c.Items(), prefs, seed, c.depth())
	if !ok {
		return outfit.Suggestion{}, ErrNoSuggestion
	}
	return suggestion, nil
}

// AddFavorite saves an outfit. Favourites are a premium feature.
func (c *Closet) AddFavorite(s outfit.Suggestion) error {
	if d := c.gate.Evaluate(gate.AccessFeature(entitlement.FeatureUnlimitedFavorites)); !d.Allowed {
		return c.deny(d, conversion.SurfaceFavorites)
	}
	c.mu.Lock()
	c.favorites = append(c.favorites, s)
	c.persistLocked()
	c.mu.Unlock()
	return nil
}

// Favorites returns the saved outfits.
func (c *Closet) Favorites() []outfit.Suggestion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.favorites)
}

// SetTheme changes the appearance. Returning to auto is always allowed.
func (c *Closet) SetTheme(t Theme) error {
	t, err := ParseTheme(string(t))
	if err != nil {
		return err
	}
	if t != ThemeAuto {
		if d := c.gate.Evaluate(gate.AccessFeature(entitlement.FeatureThemeCustomization)); !d.Allowed {
			return c.deny(d, conversion.SurfaceTheme)
		}
	}
	c.mu.Lock()
	c.theme = t
	c.persistLocked()
	c.mu.Unlock()
	return nil
}

// Theme returns the current appearance.
func (c *Closet) Theme() Theme {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.theme
}

// DailySuggestion returns today's suggestion, stable for the calendar day. It
// does not spend a daily generation.
func (c *Closet) DailySuggestion() (outfit.Suggestion, error) {
	if d := c.gate.Evaluate(gate.AccessFeature(entitlement.FeatureDailyStyleSuggestions)); !d.Allowed {
		return outfit.Suggestion{}, c.deny(d, conversion.SurfaceDailySuggestion)
	}
	suggestion, ok := outfit.Suggest(c.Items(), outfit.Preferences{}, daySeed(c.ledger.Today()), outfit.DepthPremium)
	if !ok {
		return outfit.Suggestion{}, ErrNoSuggestion
	}
	return suggestion, nil
}

func daySeed(day string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(day))
	return h.Sum64()
}

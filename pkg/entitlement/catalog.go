package entitlement

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Plan is a purchasable premium plan.
type Plan struct {
	Kind          PlanKind            `yaml:"kind" json:"kind" validate:"required,oneof=weekly monthly yearly"`
	ProductID     string              `yaml:"product_id" json:"product_id" validate:"required"`
	FallbackPrice string              `yaml:"fallback_price" json:"fallback_price" validate:"required"`
	Names         map[Language]string `yaml:"names" json:"names" validate:"required,min=1"`

	// DisplayPrice is the live platform price; empty when only the fallback is known.
	DisplayPrice string `yaml:"-" json:"display_price,omitempty"`
}

// Price returns the live display price, falling back to the embedded price.
func (p Plan) Price() string {
	if p.DisplayPrice != "" {
		return p.DisplayPrice
	}
	return p.FallbackPrice
}

// Name returns the localized plan name.
func (p Plan) Name(lang Language) string {
	if name := p.Names[lang]; name != "" {
		return name
	}
	if name := p.Names[LanguageEnglish]; name != "" {
		return name
	}
	return p.Kind.DisplayName(lang)
}

type catalogFile struct {
	Plans []Plan `yaml:"plans" validate:"required,len=3,dive"`
}

var (
	fallbackOnce  sync.Once
	fallbackPlans []Plan
	fallbackErr   error
)

// ParseCatalog decodes and validates a YAML plan catalog.
func ParseCatalog(data []byte) ([]Plan, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode plan catalog: %w", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("validate plan catalog: %w", err)
	}

	seen := make(map[PlanKind]bool, len(file.Plans))
	for _, plan := range file.Plans {
		if seen[plan.Kind] {
			return nil, fmt.Errorf("validate plan catalog: duplicate plan %q", plan.Kind)
		}
		seen[plan.Kind] = true
		if plan.ProductID != plan.Kind.ProductID() {
			return nil, fmt.Errorf("validate plan catalog: plan %q has product %q, want %q", plan.Kind, plan.ProductID, plan.Kind.ProductID())
		}
	}

	SortPlans(file.Plans)
	return file.Plans, nil
}

// FallbackCatalog returns a copy of the embedded plan catalog.
func FallbackCatalog() []Plan {
	fallbackOnce.Do(func() {
		fallbackPlans, fallbackErr = ParseCatalog(embeddedCatalog)
	})
	if fallbackErr != nil {
		// The embedded file is part of the build; a bad one is a programming error.
		panic(fallbackErr)
	}
	out := make([]Plan, len(fallbackPlans))
	copy(out, fallbackPlans)
	return out
}

// SortPlans orders plans weekly, monthly, yearly in place.
func SortPlans(plans []Plan) {
	sort.SliceStable(plans, func(i, j int) bool {
		return plans[i].Kind.SortOrder() < plans[j].Kind.SortOrder()
	})
}

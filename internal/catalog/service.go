package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/motodesk/backoffice/internal/domain"
	"github.com/motodesk/backoffice/internal/resolver"
	"github.com/motodesk/backoffice/internal/store"
)

// ErrItemNotFound indicates no sellable item matches the requested brand/model.
var ErrItemNotFound = errors.New("catalog: item not found")

// MatchKind records how an item was selected.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchContains MatchKind = "contains"
	MatchFuzzy    MatchKind = "fuzzy"
)

// Match is an item together with the lookup step that found it.
type Match struct {
	Item       domain.Item
	Kind       MatchKind
	Resolution resolver.Resolution
}

// Service answers read-only catalog questions. Lookups accept any store.Reader
// so they can run inside an allocation transaction or against the pool.
type Service struct {
	resolver *resolver.Resolver
}

// NewService builds Service.
func NewService(r *resolver.Resolver) *Service {
	return &Service{resolver: r}
}

// Resolver exposes the model resolver backing the catalog.
func (s *Service) Resolver() *resolver.Resolver {
	return s.resolver
}

// ResolveItem runs free text through the resolver and then looks the canonical model up.
// Unresolved text fails with ErrItemNotFound without touching the store.
func (s *Service) ResolveItem(ctx context.Context, r store.Reader, brand, rawModel string) (Match, error) {
	res := s.resolver.Resolve(rawModel)
	if !res.Confident() {
		return Match{Resolution: res}, fmt.Errorf("%w: %q is not a catalog model", ErrItemNotFound, rawModel)
	}
	match, err := s.FindItemByBrandAndCanonicalModel(ctx, r, brand, res.Model)
	match.Resolution = res
	return match, err
}

// FindItemByBrandAndCanonicalModel tries an exact brand+model match, then
// model containment within the brand, then a fuzzy match across every item.
// A blank brand matches any brand.
func (s *Service) FindItemByBrandAndCanonicalModel(ctx context.Context, r store.Reader, brand, model string) (Match, error) {
	items, err := r.ListItems(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("list items: %w", err)
	}
	brand = resolver.Normalize(brand)
	model = resolver.Normalize(model)
	if model == "" {
		return Match{}, fmt.Errorf("%w: empty model", ErrItemNotFound)
	}

	sameBrand := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if brand == "" || resolver.Normalize(item.Brand) == brand {
			sameBrand = append(sameBrand, item)
		}
	}
	for _, item := range sameBrand {
		if resolver.Normalize(item.Model) == model {
			return Match{Item: item, Kind: MatchExact}, nil
		}
	}
	for _, item := range sameBrand {
		itemModel := resolver.Normalize(item.Model)
		if itemModel == "" {
			continue
		}
		if strings.Contains(itemModel, model) || strings.Contains(model, itemModel) {
			return Match{Item: item, Kind: MatchContains}, nil
		}
	}

	if s.resolver != nil && len(items) > 0 {
		names := make([]string, len(items))
		for i, item := range items {
			names[i] = item.Model
		}
		if best, _, ok := s.resolver.BestMatch(model, names); ok {
			for _, item := range items {
				if item.Model == best {
					return Match{Item: item, Kind: MatchFuzzy}, nil
				}
			}
		}
	}
	return Match{}, fmt.Errorf("%w: brand=%q model=%q", ErrItemNotFound, brand, model)
}

// FindUnit searches every branch and status for a unit carrying engineNo or chassisNo.
// It returns nil when neither identifier is given or nothing matches.
func (s *Service) FindUnit(ctx context.Context, r store.Reader, engineNo, chassisNo string) (*domain.VehicleUnit, error) {
	units, err := s.FindUnits(ctx, r, engineNo, chassisNo)
	if err != nil || len(units) == 0 {
		return nil, err
	}
	return &units[0], nil
}

// FindUnits returns every unit carrying engineNo or chassisNo, lowest ID first.
func (s *Service) FindUnits(ctx context.Context, r store.Reader, engineNo, chassisNo string) ([]domain.VehicleUnit, error) {
	engineNo, chassisNo = NormalizeIdentity(engineNo), NormalizeIdentity(chassisNo)
	if engineNo == "" && chassisNo == "" {
		return nil, nil
	}
	units, err := r.FindUnitsByIdentity(ctx, engineNo, chassisNo)
	if err != nil {
		return nil, fmt.Errorf("find units: %w", err)
	}
	return units, nil
}

// NormalizeIdentity trims and uppercases an engine or chassis number.
// Placeholders such as "N/A" or "-" collapse to blank.
func NormalizeIdentity(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	switch v {
	case "-", "--", "N/A", "NA", "NONE", "NULL", "0":
		return ""
	}
	return v
}

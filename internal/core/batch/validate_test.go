package batch

import (
	"strings"
	"testing"

	"mealie-resolver/internal/core/mealie"
	"mealie-resolver/internal/pkg/common"
)

func TestPreflightCreateUnitRules(t *testing.T) {
	catalogs := &Catalogs{
		Units: []mealie.Unit{
			{ID: "u1", Name: "Teaspoon", Abbreviation: "tsp", Aliases: []mealie.Alias{{Name: "teasp"}}},
		},
	}

	cases := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"valid", Payload{Name: "tablespoon", Abbreviation: "tbsp"}, false},
		{"empty name", Payload{Name: "   "}, true},
		{"name too long", Payload{Name: strings.Repeat("x", 101)}, true},
		{"disallowed chars", Payload{Name: "cup<script>"}, true},
		{"duplicate name case-insensitive", Payload{Name: "TEASPOON"}, true},
		{"duplicate abbreviation", Payload{Name: "fresh unit", Abbreviation: "TSP"}, true},
		{"duplicate via alias", Payload{Name: "teasp"}, true},
		{"abbreviation with space", Payload{Name: "fluid ounce", Abbreviation: "fl oz"}, true},
		{"abbreviation too long", Payload{Name: "x", Abbreviation: strings.Repeat("a", 21)}, true},
	}

	for _, c := range cases {
		op := Operation{Kind: OpCreateUnit, Payload: c.payload}
		err := preflight(op, catalogs)
		if c.wantErr && err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if c.wantErr && err != nil && !common.IsValidationError(err) {
			t.Errorf("%s: error should be a validation error, got %T", c.name, err)
		}
	}
}

func TestPreflightCreateFoodRules(t *testing.T) {
	catalogs := &Catalogs{
		Foods: []mealie.Food{
			{ID: "f1", Name: "Olive Oil", Aliases: []mealie.Alias{{Name: "EVOO"}}},
		},
	}

	cases := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"valid", Payload{Name: "balsamic vinegar"}, false},
		{"empty", Payload{Name: ""}, true},
		{"duplicate name", Payload{Name: "olive oil"}, true},
		{"duplicate via alias", Payload{Name: "evoo"}, true},
	}

	for _, c := range cases {
		op := Operation{Kind: OpCreateFood, Payload: c.payload}
		err := preflight(op, catalogs)
		if c.wantErr != (err != nil) {
			t.Errorf("%s: wantErr=%v, got %v", c.name, c.wantErr, err)
		}
	}
}

func TestPreflightAddAliasRules(t *testing.T) {
	catalogs := &Catalogs{
		Foods: []mealie.Food{
			{ID: "f1", Name: "Olive Oil", Aliases: []mealie.Alias{{Name: "EVOO"}}},
		},
	}

	base := Operation{Kind: OpAddFoodAlias, TargetEntityID: "f1", Payload: Payload{Name: "extra virgin"}}
	if err := preflight(base, catalogs); err != nil {
		t.Fatalf("valid alias rejected: %v", err)
	}

	missing := base
	missing.TargetEntityID = "f9"
	if err := preflight(missing, catalogs); err == nil {
		t.Fatal("unknown target must be rejected")
	}

	empty := base
	empty.Payload.Name = "  "
	if err := preflight(empty, catalogs); err == nil {
		t.Fatal("empty alias must be rejected")
	}

	dup := base
	dup.Payload.Name = "evoo"
	if err := preflight(dup, catalogs); err == nil {
		t.Fatal("alias already attached must be rejected")
	}
}

package batch

import (
	"fmt"
	"strings"

	"mealie-resolver/internal/core/mealie"
	"mealie-resolver/internal/pkg/common"
)

const (
	maxNameLength         = 100
	maxAbbreviationLength = 20
)

// 名稱中不允許出現的字符
var disallowedChars = []string{"<", ">", "&", ";", "|"}

func checkDisallowedChars(text string) []string {
	var found []string
	for _, char := range disallowedChars {
		if strings.Contains(text, char) {
			found = append(found, char)
		}
	}
	return found
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// validateName 共同的名稱檢查：非空、長度、字符
func validateName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return common.NewValidationError(field, "name cannot be empty")
	}
	if len(name) > maxNameLength {
		return common.NewValidationError(field, fmt.Sprintf("name cannot exceed %d characters", maxNameLength))
	}
	if found := checkDisallowedChars(name); len(found) > 0 {
		return common.NewValidationError(field, fmt.Sprintf("name cannot contain: %s", strings.Join(found, " ")))
	}
	return nil
}

// preflight 前置驗證，僅查快取目錄，不發出任何遠端請求
func preflight(op Operation, catalogs *Catalogs) error {
	switch op.Kind {
	case OpCreateUnit:
		return preflightCreateUnit(op, catalogs)
	case OpCreateFood:
		return preflightCreateFood(op, catalogs)
	case OpAddFoodAlias:
		return preflightAddFoodAlias(op, catalogs)
	}
	return common.NewValidationError("kind", fmt.Sprintf("unknown operation kind %q", op.Kind))
}

func preflightCreateUnit(op Operation, catalogs *Catalogs) error {
	if err := validateName("unit name", op.Payload.Name); err != nil {
		return err
	}

	abbr := op.Payload.Abbreviation
	if len(abbr) > maxAbbreviationLength {
		return common.NewValidationError("abbreviation",
			fmt.Sprintf("abbreviation cannot exceed %d characters", maxAbbreviationLength))
	}
	if strings.Contains(abbr, " ") {
		return common.NewValidationError("abbreviation", "abbreviation cannot contain spaces")
	}

	// 名稱與縮寫都不可與快取中任何單位的名稱、縮寫或別名重複（不分大小寫）
	for _, unit := range catalogs.Units {
		if unitTextMatches(unit, op.Payload.Name) {
			return common.NewValidationError("unit name",
				fmt.Sprintf("unit %q already exists", op.Payload.Name))
		}
		if abbr != "" && unitTextMatches(unit, abbr) {
			return common.NewValidationError("abbreviation",
				fmt.Sprintf("abbreviation %q already in use by unit %q", abbr, unit.Name))
		}
	}
	return nil
}

// unitTextMatches 單位的名稱、縮寫或任一別名與文字相同（不分大小寫）
func unitTextMatches(unit mealie.Unit, text string) bool {
	if equalFold(unit.Name, text) || (unit.Abbreviation != "" && equalFold(unit.Abbreviation, text)) {
		return true
	}
	for _, alias := range unit.Aliases {
		if equalFold(alias.Name, text) {
			return true
		}
	}
	return false
}

func preflightCreateFood(op Operation, catalogs *Catalogs) error {
	if err := validateName("food name", op.Payload.Name); err != nil {
		return err
	}

	// 名稱不可與快取中任何食材名稱或別名重複（不分大小寫）
	for _, food := range catalogs.Foods {
		if equalFold(food.Name, op.Payload.Name) {
			return common.NewValidationError("food name",
				fmt.Sprintf("food %q already exists", op.Payload.Name))
		}
		for _, alias := range food.Aliases {
			if equalFold(alias.Name, op.Payload.Name) {
				return common.NewValidationError("food name",
					fmt.Sprintf("food %q already exists as alias of %q", op.Payload.Name, food.Name))
			}
		}
	}
	return nil
}

func preflightAddFoodAlias(op Operation, catalogs *Catalogs) error {
	if strings.TrimSpace(op.Payload.Name) == "" {
		return common.NewValidationError("alias", "alias text cannot be empty")
	}
	if op.TargetEntityID == "" {
		return common.NewValidationError("target", "target food id is required")
	}

	food := catalogs.FindFood(op.TargetEntityID)
	if food == nil {
		return common.NewValidationError("target",
			fmt.Sprintf("target food %s not found in catalog", op.TargetEntityID))
	}
	if food.HasAlias(op.Payload.Name) {
		return common.NewValidationError("alias",
			fmt.Sprintf("alias %q already attached to food %q", op.Payload.Name, food.Name))
	}
	return nil
}

package pattern

import (
	"sort"
	"strings"

	"mealie-resolver/internal/core/mealie"
)

// Status 樣式處理狀態
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
)

// Group 共用同一未解析樣式的食材集合
type Group struct {
	ID              string
	Kind            Kind
	CanonicalText   string
	DisplayText     string
	IngredientRefs  []mealie.IngredientRef
	RecipeIDs       []string
	SimilarGroupIDs []string
	Status          Status
}

// UnitDictionary 已知單位字典，由快取的單位目錄建立
type UnitDictionary struct {
	tokens map[string]struct{}
}

// NewUnitDictionary 由單位目錄建立字典，
// 收錄名稱、縮寫與別名的正規化形式
func NewUnitDictionary(units []mealie.Unit) *UnitDictionary {
	tokens := make(map[string]struct{})
	add := func(text string) {
		canonical := Canonicalize(text)
		if canonical != "" {
			tokens[canonical] = struct{}{}
		}
	}
	for _, unit := range units {
		add(unit.Name)
		add(unit.Abbreviation)
		for _, alias := range unit.Aliases {
			add(alias.Name)
		}
	}
	return &UnitDictionary{tokens: tokens}
}

// Contains 判斷正規化後的 token 是否為已知單位
func (d *UnitDictionary) Contains(token string) bool {
	if d == nil {
		return false
	}
	_, ok := d.tokens[Canonicalize(token)]
	return ok
}

// Analyzer 樣式分析器，純函數、無 I/O
type Analyzer struct {
	dict *UnitDictionary
}

// NewAnalyzer 創建新的樣式分析器
func NewAnalyzer(dict *UnitDictionary) *Analyzer {
	return &Analyzer{dict: dict}
}

// fragments 由食材文字切出單位片段與食材片段。
// 單位片段來自字典命中的 token；其餘非數量 token 構成食材片段。
// 無法切分時整段文字作為食材片段（完全未解析的情況）。
func (a *Analyzer) fragments(text string) (unitFragment, foodFragment string) {
	tokens := tokenize(text)

	var unitTokens, foodTokens []string
	for _, token := range tokens {
		if isNumeric(token) {
			continue
		}
		if a.dict.Contains(token) {
			unitTokens = append(unitTokens, token)
			continue
		}
		foodTokens = append(foodTokens, token)
	}

	return strings.Join(unitTokens, " "), strings.Join(foodTokens, " ")
}

// Analyze 將食譜快照轉換為樣式群組。
// 同一輸入永遠產生相同的群組 id 與成員關係。
func (a *Analyzer) Analyze(recipes []mealie.Recipe) []Group {
	groups := make(map[string]*Group)
	order := make([]string, 0)

	record := func(kind Kind, fragment, display string, ref mealie.IngredientRef) {
		canonical := Canonicalize(fragment)
		if !usable(canonical) {
			return
		}
		id := PatternID(kind, canonical)
		group, ok := groups[id]
		if !ok {
			group = &Group{
				ID:            id,
				Kind:          kind,
				CanonicalText: canonical,
				// 保留第一次觀察到的原始文字供操作者辨認
				DisplayText: strings.TrimSpace(display),
				Status:      StatusPending,
			}
			groups[id] = group
			order = append(order, id)
		}
		group.IngredientRefs = append(group.IngredientRefs, ref)
	}

	for _, recipe := range recipes {
		for _, ing := range recipe.Ingredients {
			if !ing.Unparsed() {
				continue
			}
			ref := mealie.IngredientRef{RecipeID: recipe.ID, IngredientID: ing.ReferenceID}
			text := ing.Text()

			// 內嵌的 unit/food 物件若帶有文字，優先作為片段來源
			embeddedUnit := ""
			if ing.Unit != nil {
				embeddedUnit = ing.Unit.Name
				if embeddedUnit == "" {
					embeddedUnit = ing.Unit.Abbreviation
				}
			}
			embeddedFood := ""
			if ing.Food != nil {
				embeddedFood = ing.Food.Name
			}

			heuristicUnit, heuristicFood := a.fragments(text)

			if !ing.HasUnitID() {
				fragment := embeddedUnit
				if fragment == "" {
					fragment = heuristicUnit
				}
				if fragment == "" && ing.HasFoodID() {
					// 僅缺單位又切不出片段時，整段文字作為單位樣式，
					// 確保每個未解析食材至少落入一個群組
					fragment = text
				}
				if fragment != "" {
					record(KindUnit, fragment, fragment, ref)
				}
			}

			if !ing.HasFoodID() {
				fragment := embeddedFood
				if fragment == "" {
					fragment = heuristicFood
				}
				if fragment == "" {
					// 完全未解析：整段文字作為食材樣式
					fragment = text
				}
				record(KindFood, fragment, fragment, ref)
			}
		}
	}

	result := make([]Group, 0, len(order))
	for _, id := range order {
		group := groups[id]
		group.RecipeIDs = distinctRecipeIDs(group.IngredientRefs)
		result = append(result, *group)
	}
	return result
}

// distinctRecipeIDs 收集引用到的不重複食譜 id，維持穩定順序
func distinctRecipeIDs(refs []mealie.IngredientRef) []string {
	seen := make(map[string]struct{}, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.RecipeID]; ok {
			continue
		}
		seen[ref.RecipeID] = struct{}{}
		ids = append(ids, ref.RecipeID)
	}
	return ids
}

// SortGroups 依食材數量由多到少排序，數量相同時依正規化文字
func SortGroups(groups []Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i].IngredientRefs) != len(groups[j].IngredientRefs) {
			return len(groups[i].IngredientRefs) > len(groups[j].IngredientRefs)
		}
		return groups[i].CanonicalText < groups[j].CanonicalText
	})
}

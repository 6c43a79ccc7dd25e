package mealie

// Alias 附掛在單位或食材上的別名
type Alias struct {
	Name string `json:"name"`
}

// Unit 計量單位目錄項目
type Unit struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Abbreviation string  `json:"abbreviation"`
	Description  string  `json:"description"`
	Fraction     bool    `json:"fraction"`
	UseAbbreviation bool `json:"useAbbreviation"`
	Aliases      []Alias `json:"aliases"`
}

// Food 食材目錄項目
type Food struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Aliases     []Alias `json:"aliases"`
}

// UnitRef 食譜食材中引用的單位，未解析時只有文字沒有 id
type UnitRef struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Abbreviation string `json:"abbreviation,omitempty"`
}

// FoodRef 食譜食材中引用的食材，未解析時只有文字沒有 id
type FoodRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Ingredient 食譜中的一項食材
type Ingredient struct {
	ReferenceID  string   `json:"referenceId"`
	Note         string   `json:"note"`
	OriginalText string   `json:"originalText"`
	Quantity     float64  `json:"quantity"`
	Unit         *UnitRef `json:"unit"`
	Food         *FoodRef `json:"food"`
}

// Recipe 食譜
type Recipe struct {
	ID          string       `json:"id"`
	Slug        string       `json:"slug"`
	Name        string       `json:"name"`
	Ingredients []Ingredient `json:"recipeIngredient"`
}

// IngredientRef 指向某食譜中某食材的引用
type IngredientRef struct {
	RecipeID     string `json:"recipe_id"`
	IngredientID string `json:"ingredient_id"`
}

// IngredientPatch 食材更新內容，nil 欄位不變
type IngredientPatch struct {
	UnitID *string
	FoodID *string
}

// ParsedHint 解析服務回傳的建議結果，僅供參考
type ParsedHint struct {
	Input      string  `json:"input"`
	UnitName   string  `json:"unit_name"`
	FoodName   string  `json:"food_name"`
	Confidence float64 `json:"confidence"`
}

// page 分頁回應外層
type page[T any] struct {
	Page    int    `json:"page"`
	PerPage int    `json:"perPage"`
	Total   int    `json:"total"`
	Next    string `json:"next"`
	Items   []T    `json:"items"`
}

// ProgressFunc 分頁抓取進度回呼
type ProgressFunc func(current, total int)

// Unparsed 判斷食材是否未解析：有文字但缺少單位或食材引用
func (i *Ingredient) Unparsed() bool {
	hasText := i.Note != "" || i.OriginalText != ""
	if !hasText {
		return false
	}
	return !i.HasUnitID() || !i.HasFoodID()
}

// HasUnitID 是否已綁定單位
func (i *Ingredient) HasUnitID() bool {
	return i.Unit != nil && i.Unit.ID != ""
}

// HasFoodID 是否已綁定食材
func (i *Ingredient) HasFoodID() bool {
	return i.Food != nil && i.Food.ID != ""
}

// Text 取得食材的顯示文字，優先 note
func (i *Ingredient) Text() string {
	if i.Note != "" {
		return i.Note
	}
	return i.OriginalText
}

// HasAlias 檢查別名是否已存在（不分大小寫）
func (f *Food) HasAlias(alias string) bool {
	return hasAlias(f.Aliases, alias)
}

// HasAlias 檢查別名是否已存在（不分大小寫）
func (u *Unit) HasAlias(alias string) bool {
	return hasAlias(u.Aliases, alias)
}

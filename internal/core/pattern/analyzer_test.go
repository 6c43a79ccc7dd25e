package pattern

import (
	"testing"

	"mealie-resolver/internal/core/mealie"
)

func unitRef(name string) *mealie.UnitRef {
	return &mealie.UnitRef{Name: name}
}

func foodRef(name string) *mealie.FoodRef {
	return &mealie.FoodRef{Name: name}
}

func snapshot() []mealie.Recipe {
	return []mealie.Recipe{
		{
			ID:   "r1",
			Slug: "salted-bread",
			Name: "Salted Bread",
			Ingredients: []mealie.Ingredient{
				{ReferenceID: "i1", Note: "2 tsp salt", Unit: unitRef("tsp"), Food: foodRef("salt")},
			},
		},
		{
			ID:   "r2",
			Slug: "sweet-bread",
			Name: "Sweet Bread",
			Ingredients: []mealie.Ingredient{
				{ReferenceID: "i2", Note: "1 TSP sugar", Unit: unitRef("TSP"), Food: foodRef("sugar")},
			},
		},
		{
			ID:   "r3",
			Slug: "vanilla-cake",
			Name: "Vanilla Cake",
			Ingredients: []mealie.Ingredient{
				{ReferenceID: "i3", Note: "2 tsp vanilla", Unit: unitRef(" tsp "), Food: foodRef("vanilla")},
			},
		},
	}
}

func findGroup(t *testing.T, groups []Group, kind Kind, canonical string) *Group {
	t.Helper()
	for i := range groups {
		if groups[i].Kind == kind && groups[i].CanonicalText == canonical {
			return &groups[i]
		}
	}
	t.Fatalf("no %s group with canonical text %q", kind, canonical)
	return nil
}

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  TSP ", "tsp"},
		{"Olive   Oil", "olive oil"},
		{"ｔｓｐ", "tsp"},       // 全形相容字符
		{"\tcups\n", "cups"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Canonicalize(c.in); got != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPatternIDStable(t *testing.T) {
	a := PatternID(KindUnit, "tsp")
	b := PatternID(KindUnit, "tsp")
	if a != b {
		t.Fatalf("same input produced different ids: %s vs %s", a, b)
	}
	if PatternID(KindFood, "tsp") == a {
		t.Fatal("different kinds must produce different ids")
	}
}

func TestCanonicalizationMergesVariants(t *testing.T) {
	// 大小寫、前後空白、Unicode 相容形式只差異的輸入必須落入同一群組
	analyzer := NewAnalyzer(NewUnitDictionary(nil))
	groups := analyzer.Analyze(snapshot())

	group := findGroup(t, groups, KindUnit, "tsp")
	if len(group.IngredientRefs) != 3 {
		t.Fatalf("expected 3 ingredient refs, got %d", len(group.IngredientRefs))
	}
	if len(group.RecipeIDs) != 3 {
		t.Fatalf("expected 3 distinct recipe ids, got %d", len(group.RecipeIDs))
	}
	if group.DisplayText != "tsp" {
		t.Fatalf("display text should be first observed form, got %q", group.DisplayText)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	analyzer := NewAnalyzer(NewUnitDictionary(nil))
	first := analyzer.Analyze(snapshot())
	second := analyzer.Analyze(snapshot())

	if len(first) != len(second) {
		t.Fatalf("group counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("group %d id differs: %s vs %s", i, first[i].ID, second[i].ID)
		}
		if len(first[i].IngredientRefs) != len(second[i].IngredientRefs) {
			t.Fatalf("group %d membership differs", i)
		}
	}
}

func TestEveryUnparsedIngredientCovered(t *testing.T) {
	recipes := []mealie.Recipe{
		{
			ID: "r1",
			Ingredients: []mealie.Ingredient{
				{ReferenceID: "i1", Note: "2 cups flour"},
				{ReferenceID: "i2", Note: "a pinch of salt"},
				{ReferenceID: "i3", Note: "chicken breast", Unit: &mealie.UnitRef{ID: "u1"}},
				{ReferenceID: "i4", Note: "3 tbsp butter", Food: &mealie.FoodRef{ID: "f1"}},
			},
		},
	}

	analyzer := NewAnalyzer(NewUnitDictionary([]mealie.Unit{{Name: "cups"}, {Name: "tbsp"}}))
	groups := analyzer.Analyze(recipes)

	covered := make(map[string]bool)
	for _, g := range groups {
		for _, ref := range g.IngredientRefs {
			covered[ref.IngredientID] = true
		}
	}
	for _, id := range []string{"i1", "i2", "i3", "i4"} {
		if !covered[id] {
			t.Errorf("unparsed ingredient %s not covered by any group", id)
		}
	}
}

func TestFragmentIsolation(t *testing.T) {
	dict := NewUnitDictionary([]mealie.Unit{
		{Name: "cup", Abbreviation: "c", Aliases: []mealie.Alias{{Name: "cups"}}},
	})
	analyzer := NewAnalyzer(dict)

	recipes := []mealie.Recipe{
		{
			ID: "r1",
			Ingredients: []mealie.Ingredient{
				{ReferenceID: "i1", Note: "2 cups flour"},
			},
		},
	}
	groups := analyzer.Analyze(recipes)

	findGroup(t, groups, KindUnit, "cups")
	findGroup(t, groups, KindFood, "flour")
}

func TestWholeNoteFallback(t *testing.T) {
	// 字典無命中時整段文字成為食材樣式
	analyzer := NewAnalyzer(NewUnitDictionary(nil))
	recipes := []mealie.Recipe{
		{
			ID: "r1",
			Ingredients: []mealie.Ingredient{
				{ReferenceID: "i1", Note: "fresh basil leaves"},
			},
		},
	}
	groups := analyzer.Analyze(recipes)
	findGroup(t, groups, KindFood, "fresh basil leaves")
}

func TestUnusableFragmentsSkipped(t *testing.T) {
	analyzer := NewAnalyzer(NewUnitDictionary(nil))
	recipes := []mealie.Recipe{
		{
			ID: "r1",
			Ingredients: []mealie.Ingredient{
				{ReferenceID: "i1", Note: "12345"},     // 純數字
				{ReferenceID: "i2", Note: "---"},       // 純標點
				{ReferenceID: "i3", Note: "   "},       // 正規化後為空
				{ReferenceID: "i4", Note: ""},          // 無文字，不是未解析
			},
		},
	}
	groups := analyzer.Analyze(recipes)
	if len(groups) != 0 {
		t.Fatalf("expected no groups for unusable inputs, got %d", len(groups))
	}
}

func TestOriginalTextUsedWhenNoteEmpty(t *testing.T) {
	analyzer := NewAnalyzer(NewUnitDictionary(nil))
	recipes := []mealie.Recipe{
		{
			ID: "r1",
			Ingredients: []mealie.Ingredient{
				{ReferenceID: "i1", OriginalText: "Olive Oil"},
			},
		},
	}
	groups := analyzer.Analyze(recipes)
	findGroup(t, groups, KindFood, "olive oil")
}

func TestSortGroupsByCount(t *testing.T) {
	groups := []Group{
		{ID: "a", CanonicalText: "b", IngredientRefs: make([]mealie.IngredientRef, 1)},
		{ID: "b", CanonicalText: "a", IngredientRefs: make([]mealie.IngredientRef, 3)},
		{ID: "c", CanonicalText: "c", IngredientRefs: make([]mealie.IngredientRef, 1)},
	}
	SortGroups(groups)
	if groups[0].ID != "b" {
		t.Fatalf("largest group should sort first, got %s", groups[0].ID)
	}
	if groups[1].CanonicalText != "a" || groups[2].CanonicalText != "c" {
		t.Fatal("equal-sized groups should sort by canonical text")
	}
}

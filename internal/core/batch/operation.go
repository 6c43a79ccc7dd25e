package batch

import (
	"time"

	"mealie-resolver/internal/core/mealie"
	"mealie-resolver/internal/pkg/common"
)

// OpKind 批次操作種類
type OpKind string

const (
	OpCreateUnit   OpKind = "create_unit"
	OpCreateFood   OpKind = "create_food"
	OpAddFoodAlias OpKind = "add_food_alias"
)

// FinalStatus 批次結果分類
type FinalStatus string

const (
	StatusAllOK   FinalStatus = "all_ok"
	StatusPartial FinalStatus = "partial"
	StatusAborted FinalStatus = "aborted"
)

// Payload 操作內容
type Payload struct {
	Name         string
	Abbreviation string
	Description  string
}

// Operation 操作者確認後建立的批次操作，
// 一個樣式同一時間只會屬於一個進行中的操作
type Operation struct {
	Kind           OpKind
	PatternID      string
	PatternText    string
	Payload        Payload
	TargetEntityID string // add_food_alias 的目標食材
	Affected       []mealie.IngredientRef
}

// FailedUpdate 單一食材更新失敗紀錄
type FailedUpdate struct {
	Ref     mealie.IngredientRef
	Kind    common.ErrorKind
	Message string
}

// Result 批次操作結果
type Result struct {
	Op              Operation
	CreatedEntityID string
	Succeeded       []mealie.IngredientRef
	Failed          []FailedUpdate
	Duration        time.Duration
	FinalStatus     FinalStatus
	AbortReason     string

	// 目錄異動後重新抓取的快照，失敗時為 nil（由下一個批次再試）
	RefreshedUnits []mealie.Unit
	RefreshedFoods []mealie.Food
}

// FailedRefs 取出失敗的食材引用
func (r *Result) FailedRefs() []mealie.IngredientRef {
	refs := make([]mealie.IngredientRef, 0, len(r.Failed))
	for _, f := range r.Failed {
		refs = append(refs, f.Ref)
	}
	return refs
}

// Catalogs 執行器進行前置驗證用的目錄快照
type Catalogs struct {
	Units []mealie.Unit
	Foods []mealie.Food
}

// FindFood 依 id 尋找食材
func (c *Catalogs) FindFood(id string) *mealie.Food {
	for i := range c.Foods {
		if c.Foods[i].ID == id {
			return &c.Foods[i]
		}
	}
	return nil
}

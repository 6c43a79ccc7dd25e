package session

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion 目前的工作階段檔案格式版本
const SchemaVersion = "1.0"

// recentOperationsCap recent_operations 上限，超過時丟棄最舊的
const recentOperationsCap = 50

// AliasAddition 已執行的別名新增紀錄
type AliasAddition struct {
	FoodID string `json:"food_id"`
	Alias  string `json:"alias"`
}

// Stats 工作階段統計
type Stats struct {
	UnitsCreated       int `json:"units_created"`
	FoodsCreated       int `json:"foods_created"`
	AliasesAdded       int `json:"aliases_added"`
	IngredientsUpdated int `json:"ingredients_updated"`
	PatternsCompleted  int `json:"patterns_completed"`
	PatternsSkipped    int `json:"patterns_skipped"`
}

// OperationRecord 單次批次操作的稽核紀錄
type OperationRecord struct {
	Timestamp string `json:"ts"`
	Op        string `json:"op"`
	PatternID string `json:"pattern_id"`
	Count     int    `json:"count"`
	Status    string `json:"status"`
}

// State 工作階段狀態，唯一的本地持久化資料。
// 只作為續作輔助，Mealie 伺服器才是事實來源。
type State struct {
	SchemaVersion       string            `json:"schema_version"`
	SessionID           string            `json:"session_id"`
	Timestamp           string            `json:"timestamp"`
	CompletedPatternIDs []string          `json:"completed_pattern_ids"`
	SkippedPatternIDs   []string          `json:"skipped_pattern_ids"`
	ProcessedRecipeIDs  []string          `json:"processed_recipe_ids"`
	CreatedUnitIDs      []string          `json:"created_unit_ids"`
	CreatedFoodIDs      []string          `json:"created_food_ids"`
	AliasAdditions      []AliasAddition   `json:"alias_additions"`
	Stats               Stats             `json:"stats"`
	RecentOperations    []OperationRecord `json:"recent_operations"`
}

// NewState 創建新的工作階段狀態
func NewState() *State {
	return &State{
		SchemaVersion: SchemaVersion,
		SessionID:     uuid.NewString(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// touch 更新時間戳
func (s *State) touch() {
	s.Timestamp = time.Now().UTC().Format(time.RFC3339)
}

func contains(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// MarkCompleted 將樣式標記為已完成，同時自跳過集合移除
func (s *State) MarkCompleted(patternID string) {
	s.SkippedPatternIDs = remove(s.SkippedPatternIDs, patternID)
	if !contains(s.CompletedPatternIDs, patternID) {
		s.CompletedPatternIDs = append(s.CompletedPatternIDs, patternID)
		s.Stats.PatternsCompleted++
	}
	s.touch()
}

// MarkSkipped 將樣式標記為跳過，同時自完成集合移除以維持互斥
func (s *State) MarkSkipped(patternID string) {
	s.CompletedPatternIDs = remove(s.CompletedPatternIDs, patternID)
	if !contains(s.SkippedPatternIDs, patternID) {
		s.SkippedPatternIDs = append(s.SkippedPatternIDs, patternID)
		s.Stats.PatternsSkipped++
	}
	s.touch()
}

// Unskip 取消跳過，樣式回到待處理
func (s *State) Unskip(patternID string) {
	if contains(s.SkippedPatternIDs, patternID) {
		s.SkippedPatternIDs = remove(s.SkippedPatternIDs, patternID)
		if s.Stats.PatternsSkipped > 0 {
			s.Stats.PatternsSkipped--
		}
		s.touch()
	}
}

// IsCompleted 樣式是否已完成
func (s *State) IsCompleted(patternID string) bool {
	return contains(s.CompletedPatternIDs, patternID)
}

// IsSkipped 樣式是否已跳過
func (s *State) IsSkipped(patternID string) bool {
	return contains(s.SkippedPatternIDs, patternID)
}

// RecordCreatedUnit 記錄新建立的單位
func (s *State) RecordCreatedUnit(unitID string) {
	if !contains(s.CreatedUnitIDs, unitID) {
		s.CreatedUnitIDs = append(s.CreatedUnitIDs, unitID)
		s.Stats.UnitsCreated++
	}
	s.touch()
}

// RecordCreatedFood 記錄新建立的食材
func (s *State) RecordCreatedFood(foodID string) {
	if !contains(s.CreatedFoodIDs, foodID) {
		s.CreatedFoodIDs = append(s.CreatedFoodIDs, foodID)
		s.Stats.FoodsCreated++
	}
	s.touch()
}

// RecordAliasAddition 記錄別名新增
func (s *State) RecordAliasAddition(foodID, alias string) {
	for _, existing := range s.AliasAdditions {
		if existing.FoodID == foodID && existing.Alias == alias {
			return
		}
	}
	s.AliasAdditions = append(s.AliasAdditions, AliasAddition{FoodID: foodID, Alias: alias})
	s.Stats.AliasesAdded++
	s.touch()
}

// RecordOperation 追加操作稽核紀錄，超出上限時丟棄最舊的
func (s *State) RecordOperation(op, patternID string, count int, status string) {
	s.RecentOperations = append(s.RecentOperations, OperationRecord{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Op:        op,
		PatternID: patternID,
		Count:     count,
		Status:    status,
	})
	if len(s.RecentOperations) > recentOperationsCap {
		s.RecentOperations = s.RecentOperations[len(s.RecentOperations)-recentOperationsCap:]
	}
	s.touch()
}

// Reconcile 與最新分析結果對齊：
// 不再出現的樣式自集合移除，新樣式維持待處理
func (s *State) Reconcile(currentPatternIDs map[string]struct{}) {
	filter := func(ids []string) []string {
		out := ids[:0]
		for _, id := range ids {
			if _, ok := currentPatternIDs[id]; ok {
				out = append(out, id)
			}
		}
		return out
	}
	s.CompletedPatternIDs = filter(s.CompletedPatternIDs)
	s.SkippedPatternIDs = filter(s.SkippedPatternIDs)
	s.touch()
}

// validate 檢查集合元素不重複且完成與跳過互斥
func (s *State) validate() error {
	distinct := func(ids []string) bool {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if id == "" {
				return false
			}
			if _, ok := seen[id]; ok {
				return false
			}
			seen[id] = struct{}{}
		}
		return true
	}
	if !distinct(s.CompletedPatternIDs) || !distinct(s.SkippedPatternIDs) {
		return errSetNotDistinct
	}
	completed := make(map[string]struct{}, len(s.CompletedPatternIDs))
	for _, id := range s.CompletedPatternIDs {
		completed[id] = struct{}{}
	}
	for _, id := range s.SkippedPatternIDs {
		if _, ok := completed[id]; ok {
			return errSetsOverlap
		}
	}
	return nil
}

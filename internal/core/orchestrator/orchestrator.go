package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"mealie-resolver/internal/core/batch"
	"mealie-resolver/internal/core/hintcache"
	"mealie-resolver/internal/core/mealie"
	"mealie-resolver/internal/core/pattern"
	"mealie-resolver/internal/core/session"
	"mealie-resolver/internal/infrastructure/config"
	"mealie-resolver/internal/pkg/common"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LoadOutcome 工作階段載入結果
type LoadOutcome string

const (
	OutcomeFresh        LoadOutcome = "fresh"
	OutcomeResumed      LoadOutcome = "resumed"
	OutcomeCorrupted    LoadOutcome = "corrupted"
	OutcomeIncompatible LoadOutcome = "incompatible_schema"
)

// Remote Orchestrator 需要的完整遠端介面
type Remote interface {
	batch.Remote
	ListRecipes(ctx context.Context, progress mealie.ProgressFunc) ([]mealie.Recipe, error)
	ParseNotes(ctx context.Context, texts []string, parser string) ([]mealie.ParsedHint, error)
}

// Orchestrator 驅動端到端流程的唯一入口。
// 目錄快取與工作階段狀態只由 Orchestrator 更動；
// 執行器拿到的是不可變視圖，回傳的結果再由這裡折回狀態。
type Orchestrator struct {
	config   *config.Config
	remote   Remote
	store    *session.Store
	executor *batch.Executor
	hints    *hintcache.Manager
	hintSvc  *hintcache.Service

	// 快照與分析結果
	recipes  []mealie.Recipe
	units    []mealie.Unit
	foods    []mealie.Food
	groups   []pattern.Group
	groupIdx map[string]int

	state       *session.State
	loadOutcome LoadOutcome

	// 保存呼叫全序：同一時間只有一次序列化與寫入
	saveMu sync.Mutex

	// 各樣式最近一次的批次結果，供失敗重試
	lastResults map[string]*batch.Result

	// 進行中的樣式，同一樣式不可同時屬於兩個批次
	processing map[string]struct{}
	procMu     sync.Mutex
}

// New 創建新的 Orchestrator
func New(cfg *config.Config, remote Remote, store *session.Store, onProgress batch.ProgressFunc) *Orchestrator {
	return &Orchestrator{
		config:      cfg,
		remote:      remote,
		store:       store,
		executor:    batch.NewExecutor(remote, cfg.Batch.Width, onProgress),
		hints:       hintcache.NewManager(&cfg.Cache),
		groupIdx:    make(map[string]int),
		lastResults: make(map[string]*batch.Result),
		processing:  make(map[string]struct{}),
	}
}

// WithHintService 掛上可選的 Redis 快取後端
func (o *Orchestrator) WithHintService(svc *hintcache.Service) *Orchestrator {
	o.hintSvc = svc
	return o
}

// Start 抓取快照、執行分析並載入工作階段。
// 認證失敗會直接回傳錯誤並中止。
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.fetchSnapshot(ctx); err != nil {
		return err
	}

	o.analyze()

	// 載入工作階段並與新分析結果對齊
	state, err := o.store.Load()
	switch {
	case err == nil:
		o.state = state
		o.loadOutcome = OutcomeResumed
		o.reconcile()
	case errors.Is(err, session.ErrMissing):
		o.state = session.NewState()
		o.loadOutcome = OutcomeFresh
	case errors.Is(err, session.ErrIncompatibleSchema):
		o.state = session.NewState()
		o.loadOutcome = OutcomeIncompatible
	default:
		o.state = session.NewState()
		o.loadOutcome = OutcomeCorrupted
	}

	common.LogInfo("工作階段就緒",
		zap.String("outcome", string(o.loadOutcome)),
		zap.Int("patterns", len(o.groups)),
		zap.Int("recipes", len(o.recipes)),
	)
	return nil
}

// fetchSnapshot 並行抓取食譜、單位、食材三份快照
func (o *Orchestrator) fetchSnapshot(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		recipes, err := o.remote.ListRecipes(gctx, nil)
		if err != nil {
			return fmt.Errorf("fetch recipes: %w", err)
		}
		o.recipes = recipes
		return nil
	})
	group.Go(func() error {
		units, err := o.remote.ListUnits(gctx, nil)
		if err != nil {
			return fmt.Errorf("fetch units: %w", err)
		}
		o.units = units
		return nil
	})
	group.Go(func() error {
		foods, err := o.remote.ListFoods(gctx, nil)
		if err != nil {
			return fmt.Errorf("fetch foods: %w", err)
		}
		o.foods = foods
		return nil
	})

	if err := group.Wait(); err != nil {
		if common.IsAuthError(err) {
			common.LogError("認證失敗，中止工作階段", zap.Error(err))
		}
		return err
	}
	return nil
}

// analyze 在目前快照上重建樣式群組與相似度索引
func (o *Orchestrator) analyze() {
	dict := pattern.NewUnitDictionary(o.units)
	analyzer := pattern.NewAnalyzer(dict)
	o.groups = analyzer.Analyze(o.recipes)
	pattern.SortGroups(o.groups)

	index := pattern.BuildSimilarityIndex(o.groups, pattern.IndexConfig{
		Threshold:     o.config.Similarity.Threshold,
		MaxCandidates: o.config.Similarity.MaxCandidates,
	})
	pattern.AttachSimilarities(o.groups, index)

	o.groupIdx = make(map[string]int, len(o.groups))
	for i := range o.groups {
		o.groupIdx[o.groups[i].ID] = i
	}
}

// reconcile 工作階段與新分析對齊：
// 消失的樣式自集合移除，新樣式為待處理
func (o *Orchestrator) reconcile() {
	current := make(map[string]struct{}, len(o.groups))
	for i := range o.groups {
		current[o.groups[i].ID] = struct{}{}
	}
	o.state.Reconcile(current)
}

// applyStatus 由工作階段狀態導出樣式顯示狀態
func (o *Orchestrator) applyStatus(g *pattern.Group) {
	switch {
	case o.isProcessing(g.ID):
		g.Status = pattern.StatusProcessing
	case o.state.IsCompleted(g.ID):
		g.Status = pattern.StatusCompleted
	case o.state.IsSkipped(g.ID):
		g.Status = pattern.StatusSkipped
	default:
		g.Status = pattern.StatusPending
	}
}

// Outcome 工作階段載入結果
func (o *Orchestrator) Outcome() LoadOutcome {
	return o.loadOutcome
}

// State 目前的工作階段狀態（唯讀用途）
func (o *Orchestrator) State() *session.State {
	return o.state
}

// Patterns 取得全部樣式群組（帶目前狀態）
func (o *Orchestrator) Patterns() []pattern.Group {
	out := make([]pattern.Group, len(o.groups))
	copy(out, o.groups)
	for i := range out {
		o.applyStatus(&out[i])
	}
	return out
}

// Pattern 依 id 取得樣式群組，接受唯一前綴
func (o *Orchestrator) Pattern(id string) (*pattern.Group, error) {
	idx, ok := o.groupIdx[id]
	if !ok {
		matches := 0
		for fullID, i := range o.groupIdx {
			if strings.HasPrefix(fullID, id) {
				idx = i
				matches++
			}
		}
		if matches == 0 {
			return nil, fmt.Errorf("pattern %s not found in current analysis", id)
		}
		if matches > 1 {
			return nil, fmt.Errorf("pattern id prefix %s is ambiguous", id)
		}
	}
	g := o.groups[idx]
	o.applyStatus(&g)
	return &g, nil
}

// RecipeName 供錯誤訊息顯示食譜名稱
func (o *Orchestrator) RecipeName(recipeID string) string {
	for i := range o.recipes {
		if o.recipes[i].ID == recipeID {
			return o.recipes[i].Name
		}
	}
	return recipeID
}

func (o *Orchestrator) isProcessing(id string) bool {
	o.procMu.Lock()
	defer o.procMu.Unlock()
	_, ok := o.processing[id]
	return ok
}

func (o *Orchestrator) beginProcessing(id string) error {
	o.procMu.Lock()
	defer o.procMu.Unlock()
	if _, ok := o.processing[id]; ok {
		return fmt.Errorf("pattern %s already has a batch in progress", id)
	}
	o.processing[id] = struct{}{}
	return nil
}

func (o *Orchestrator) endProcessing(id string) {
	o.procMu.Lock()
	defer o.procMu.Unlock()
	delete(o.processing, id)
}

// Decision 操作者對單一樣式的決定
type Decision struct {
	Kind           batch.OpKind
	Name           string
	Abbreviation   string
	Description    string
	TargetEntityID string
}

// buildOperation 由決定與樣式群組建立批次操作
func (o *Orchestrator) buildOperation(g *pattern.Group, d Decision) batch.Operation {
	return batch.Operation{
		Kind:           d.Kind,
		PatternID:      g.ID,
		PatternText:    g.DisplayText,
		Payload:        batch.Payload{Name: d.Name, Abbreviation: d.Abbreviation, Description: d.Description},
		TargetEntityID: d.TargetEntityID,
		Affected:       g.IngredientRefs,
	}
}

// Execute 執行操作者決定：建立操作、交給執行器、折回狀態並持久化。
// 批次之間不併發，前一個結果入檔後才會開始下一個。
func (o *Orchestrator) Execute(ctx context.Context, patternID string, d Decision) (*batch.Result, error) {
	g, err := o.Pattern(patternID)
	if err != nil {
		return nil, err
	}
	if g.Status == pattern.StatusCompleted {
		return nil, fmt.Errorf("pattern %s is already completed", g.ID)
	}
	if err := o.beginProcessing(g.ID); err != nil {
		return nil, err
	}
	defer o.endProcessing(g.ID)

	op := o.buildOperation(g, d)
	catalogs := &batch.Catalogs{Units: o.units, Foods: o.foods}

	result := o.executor.Execute(ctx, op, catalogs)
	o.fold(result)

	if err := o.persist(); err != nil {
		return result, err
	}
	return result, nil
}

// RetryFailed 重跑指定樣式上一次批次中失敗的食材
func (o *Orchestrator) RetryFailed(ctx context.Context, patternID string) (*batch.Result, error) {
	g, err := o.Pattern(patternID)
	if err != nil {
		return nil, err
	}
	prev, ok := o.lastResults[g.ID]
	if !ok {
		return nil, fmt.Errorf("pattern %s has no previous batch result", g.ID)
	}
	if len(prev.Failed) == 0 {
		return nil, fmt.Errorf("pattern %s has no failed ingredients to retry", g.ID)
	}
	if err := o.beginProcessing(g.ID); err != nil {
		return nil, err
	}
	defer o.endProcessing(g.ID)

	// 重試全數成功即代表整個樣式完成（前次成功 + 本次補齊）
	result := o.executor.RetryFailed(ctx, prev)
	o.fold(result)

	if err := o.persist(); err != nil {
		return result, err
	}
	return result, nil
}

// fold 把批次結果折回快取與工作階段狀態
func (o *Orchestrator) fold(result *batch.Result) {
	patternID := result.Op.PatternID

	// 目錄快取以執行器重抓的快照替換
	if result.RefreshedUnits != nil {
		o.units = result.RefreshedUnits
	}
	if result.RefreshedFoods != nil {
		o.foods = result.RefreshedFoods
	}

	// 紀錄新建實體
	if result.CreatedEntityID != "" {
		switch result.Op.Kind {
		case batch.OpCreateUnit:
			o.state.RecordCreatedUnit(result.CreatedEntityID)
		case batch.OpCreateFood:
			o.state.RecordCreatedFood(result.CreatedEntityID)
		case batch.OpAddFoodAlias:
			o.state.RecordAliasAddition(result.Op.TargetEntityID, result.Op.Payload.Name)
		}
	}

	o.state.Stats.IngredientsUpdated += len(result.Succeeded)
	for _, ref := range result.Succeeded {
		if !containsString(o.state.ProcessedRecipeIDs, ref.RecipeID) {
			o.state.ProcessedRecipeIDs = append(o.state.ProcessedRecipeIDs, ref.RecipeID)
		}
	}

	// all_ok 才算完成；partial 與 aborted 維持待處理供重試
	if result.FinalStatus == batch.StatusAllOK {
		o.state.MarkCompleted(patternID)
	}

	o.state.RecordOperation(string(result.Op.Kind), patternID, len(result.Succeeded), string(result.FinalStatus))
	o.lastResults[patternID] = result
}

func containsString(list []string, s string) bool {
	for _, existing := range list {
		if existing == s {
			return true
		}
	}
	return false
}

// Skip 跳過樣式並立即持久化
func (o *Orchestrator) Skip(patternID string) error {
	g, err := o.Pattern(patternID)
	if err != nil {
		return err
	}
	o.state.MarkSkipped(g.ID)
	return o.persist()
}

// Unskip 取消跳過並立即持久化
func (o *Orchestrator) Unskip(patternID string) error {
	g, err := o.Pattern(patternID)
	if err != nil {
		return err
	}
	o.state.Unskip(g.ID)
	return o.persist()
}

// DiscardSession 清除損毀或不要的工作階段檔案並重新開始
func (o *Orchestrator) DiscardSession() error {
	if err := o.store.Discard(); err != nil {
		return err
	}
	o.state = session.NewState()
	o.loadOutcome = OutcomeFresh
	o.lastResults = make(map[string]*batch.Result)
	return nil
}

// persist 序列化並寫入工作階段，呼叫以鎖全序化
func (o *Orchestrator) persist() error {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()
	return o.store.Save(o.state)
}

// Finish 收尾時寫入最終狀態
func (o *Orchestrator) Finish() error {
	return o.persist()
}

// ParseHints 查詢解析提示，優先使用快取
func (o *Orchestrator) ParseHints(ctx context.Context, texts []string) ([]mealie.ParsedHint, error) {
	parser := o.config.Mealie.Parser

	hints := make([]mealie.ParsedHint, 0, len(texts))
	var missing []string
	for _, text := range texts {
		if hint, ok := o.hints.Get(parser, text); ok {
			hints = append(hints, hint)
			continue
		}
		if o.hintSvc != nil {
			if hint, err := o.hintSvc.Get(ctx, parser, text); err == nil {
				o.hints.Set(parser, text, *hint)
				hints = append(hints, *hint)
				continue
			}
		}
		missing = append(missing, text)
	}

	if len(missing) > 0 {
		fresh, err := o.remote.ParseNotes(ctx, missing, parser)
		if err != nil {
			// 解析提示僅供參考，失敗時回傳已有的部分
			common.LogWarn("解析提示查詢失敗", zap.Error(err))
			return hints, nil
		}
		for _, hint := range fresh {
			o.hints.Set(parser, hint.Input, hint)
			if o.hintSvc != nil {
				h := hint
				_ = o.hintSvc.Set(ctx, parser, hint.Input, &h)
			}
			hints = append(hints, hint)
		}
	}
	return hints, nil
}

// Close 釋放資源
func (o *Orchestrator) Close() {
	o.hints.Close()
	if o.hintSvc != nil {
		_ = o.hintSvc.Close()
	}
}

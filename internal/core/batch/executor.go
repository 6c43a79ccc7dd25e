package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mealie-resolver/internal/core/mealie"
	"mealie-resolver/internal/pkg/common"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Remote 執行器需要的遠端操作，由 mealie.Client 實現
type Remote interface {
	CreateUnit(ctx context.Context, name, abbreviation, description string) (*mealie.Unit, error)
	CreateFood(ctx context.Context, name, description string) (*mealie.Food, error)
	AddFoodAlias(ctx context.Context, foodID, alias string) (*mealie.Food, error)
	UpdateIngredient(ctx context.Context, ref mealie.IngredientRef, patch mealie.IngredientPatch) error
	ListUnits(ctx context.Context, progress mealie.ProgressFunc) ([]mealie.Unit, error)
	ListFoods(ctx context.Context, progress mealie.ProgressFunc) ([]mealie.Food, error)
}

// ProgressFunc 每完成一筆食材更新呼叫一次
type ProgressFunc func(completed, total int)

// Executor 批次執行器：一個 Operation 產生一個 Result。
// 批次之間不併發，批次內的食材更新以固定寬度 fan-out。
type Executor struct {
	remote     Remote
	width      int
	onProgress ProgressFunc
}

// NewExecutor 創建新的批次執行器
func NewExecutor(remote Remote, width int, onProgress ProgressFunc) *Executor {
	if width <= 0 {
		width = 1
	}
	return &Executor{
		remote:     remote,
		width:      width,
		onProgress: onProgress,
	}
}

// Execute 執行一個批次操作。
// 流程：前置驗證 → 目錄異動 → fan-out 食材更新 → 目錄快取更新 → 結果分類。
// 目錄異動失敗時直接中止，不會發出任何食材更新（保證無多餘寫入）。
func (e *Executor) Execute(ctx context.Context, op Operation, catalogs *Catalogs) *Result {
	start := time.Now()
	result := &Result{Op: op}

	if len(op.Affected) == 0 {
		result.FinalStatus = StatusAborted
		result.AbortReason = "operation has no affected ingredients"
		result.Duration = time.Since(start)
		return result
	}

	// 前置驗證只查快取，失敗時不發出任何遠端請求
	if err := preflight(op, catalogs); err != nil {
		common.LogWarn("批次前置驗證失敗",
			zap.String("pattern", op.PatternText),
			zap.String("kind", string(op.Kind)),
			zap.Error(err),
		)
		result.FinalStatus = StatusAborted
		result.AbortReason = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	// 目錄異動（至多一次建立）
	entityID, err := e.mutateCatalog(ctx, op, catalogs)
	if err != nil {
		common.LogError("目錄異動失敗，中止批次",
			zap.String("pattern", op.PatternText),
			zap.String("kind", string(op.Kind)),
			zap.Error(err),
		)
		result.FinalStatus = StatusAborted
		result.AbortReason = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	result.CreatedEntityID = entityID

	// fan-out 食材更新
	e.fanOut(ctx, op, entityID, result)

	// 目錄快取更新，失敗不影響本批結果
	e.refresh(ctx, op, result)

	if len(result.Failed) == 0 {
		result.FinalStatus = StatusAllOK
	} else if len(result.Succeeded) > 0 {
		result.FinalStatus = StatusPartial
	} else {
		result.FinalStatus = StatusAborted
		result.AbortReason = "all ingredient updates failed"
	}
	result.Duration = time.Since(start)

	common.LogInfo("批次執行完成",
		zap.String("pattern", op.PatternText),
		zap.String("status", string(result.FinalStatus)),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("耗時", result.Duration),
	)
	return result
}

// RetryFailed 只重跑上一次失敗的食材集合，沿用已建立的實體，
// 不會再做第二次目錄建立
func (e *Executor) RetryFailed(ctx context.Context, prev *Result) *Result {
	start := time.Now()

	retryOp := prev.Op
	retryOp.Affected = prev.FailedRefs()

	result := &Result{Op: retryOp, CreatedEntityID: prev.CreatedEntityID}

	entityID := prev.CreatedEntityID
	if entityID == "" {
		entityID = prev.Op.TargetEntityID
	}
	if entityID == "" {
		result.FinalStatus = StatusAborted
		result.AbortReason = "previous result has no entity to retry against"
		result.Duration = time.Since(start)
		return result
	}
	if len(retryOp.Affected) == 0 {
		result.FinalStatus = StatusAllOK
		result.Duration = time.Since(start)
		return result
	}

	e.fanOut(ctx, retryOp, entityID, result)

	if len(result.Failed) == 0 {
		result.FinalStatus = StatusAllOK
	} else if len(result.Succeeded) > 0 {
		result.FinalStatus = StatusPartial
	} else {
		result.FinalStatus = StatusAborted
		result.AbortReason = "all retried updates failed"
	}
	result.Duration = time.Since(start)
	return result
}

// mutateCatalog 依操作種類執行至多一次目錄寫入，
// 回傳要套用到食材的實體 id
func (e *Executor) mutateCatalog(ctx context.Context, op Operation, catalogs *Catalogs) (string, error) {
	switch op.Kind {
	case OpCreateUnit:
		unit, err := e.createUnitReconciled(ctx, op, catalogs)
		if err != nil {
			return "", err
		}
		return unit.ID, nil

	case OpCreateFood:
		food, err := e.remote.CreateFood(ctx, op.Payload.Name, op.Payload.Description)
		if err != nil {
			// 與建立單位相同：名稱衝突時重抓食材目錄、重驗證一次再放棄
			if common.IsConflictError(err) {
				if fresh, listErr := e.remote.ListFoods(ctx, nil); listErr == nil {
					catalogs.Foods = fresh
					if verr := preflight(op, catalogs); verr != nil {
						return "", verr
					}
				}
			}
			return "", err
		}
		return food.ID, nil

	case OpAddFoodAlias:
		// 既有食材加別名，已存在時客戶端視為成功（冪等）
		food, err := e.remote.AddFoodAlias(ctx, op.TargetEntityID, op.Payload.Name)
		if err != nil {
			if common.IsNotFoundError(err) {
				// 目標可能已在別處被刪除：回傳錯誤中止批次，此處不重抓目錄也不重驗證
				return "", fmt.Errorf("selected target no longer exists: %w", err)
			}
			return "", err
		}
		return food.ID, nil
	}
	return "", fmt.Errorf("unknown operation kind %q", op.Kind)
}

// createUnitReconciled 建立單位；遇到名稱衝突時重抓目錄、重驗證一次再放棄
func (e *Executor) createUnitReconciled(ctx context.Context, op Operation, catalogs *Catalogs) (*mealie.Unit, error) {
	unit, err := e.remote.CreateUnit(ctx, op.Payload.Name, op.Payload.Abbreviation, op.Payload.Description)
	if err == nil {
		return unit, nil
	}
	if !common.IsConflictError(err) {
		return nil, err
	}

	// 快取可能過期：重抓單位目錄再驗證一次
	fresh, listErr := e.remote.ListUnits(ctx, nil)
	if listErr != nil {
		return nil, err
	}
	catalogs.Units = fresh
	if verr := preflight(op, catalogs); verr != nil {
		return nil, verr
	}
	return nil, err
}

// fanOut 以固定寬度併發發出食材更新。
// 提交順序依 Affected 排列，完成順序不保證。
// ctx 取消後不再提交新更新，等待在途請求完成。
func (e *Executor) fanOut(ctx context.Context, op Operation, entityID string, result *Result) {
	patch := mealie.IngredientPatch{}
	switch op.Kind {
	case OpCreateUnit:
		patch.UnitID = &entityID
	case OpCreateFood, OpAddFoodAlias:
		patch.FoodID = &entityID
	}

	var mu sync.Mutex
	completed := 0
	total := len(op.Affected)

	group := &errgroup.Group{}
	group.SetLimit(e.width)

	for _, ref := range op.Affected {
		// 操作者取消後停止提交，在途更新無法安全中斷，讓它們跑完
		if ctx.Err() != nil {
			mu.Lock()
			result.Failed = append(result.Failed, FailedUpdate{
				Ref:     ref,
				Kind:    common.KindOther,
				Message: "cancelled before submission",
			})
			mu.Unlock()
			continue
		}

		ref := ref
		group.Go(func() error {
			err := e.remote.UpdateIngredient(context.WithoutCancel(ctx), ref, patch)

			mu.Lock()
			if err != nil {
				result.Failed = append(result.Failed, FailedUpdate{
					Ref:     ref,
					Kind:    common.KindOf(err),
					Message: err.Error(),
				})
			} else {
				result.Succeeded = append(result.Succeeded, ref)
			}
			completed++
			done := completed
			mu.Unlock()

			if e.onProgress != nil {
				e.onProgress(done, total)
			}
			return nil
		})
	}

	_ = group.Wait()
}

// refresh 目錄異動後重抓受影響的目錄，失敗只記錄不中斷
func (e *Executor) refresh(ctx context.Context, op Operation, result *Result) {
	switch op.Kind {
	case OpCreateUnit:
		units, err := e.remote.ListUnits(ctx, nil)
		if err != nil {
			common.LogWarn("單位目錄更新失敗，下個批次再試", zap.Error(err))
			return
		}
		result.RefreshedUnits = units

	case OpCreateFood, OpAddFoodAlias:
		// 別名也要立刻反映在下一個樣式的相似度建議中
		foods, err := e.remote.ListFoods(ctx, nil)
		if err != nil {
			common.LogWarn("食材目錄更新失敗，下個批次再試", zap.Error(err))
			return
		}
		result.RefreshedFoods = foods
	}
}

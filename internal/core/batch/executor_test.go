package batch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"mealie-resolver/internal/core/mealie"
	"mealie-resolver/internal/pkg/common"
)

// fakeRemote 測試用的遠端替身，記錄所有呼叫
type fakeRemote struct {
	mu sync.Mutex

	units []mealie.Unit
	foods []mealie.Food

	createUnitCalls int
	createFoodCalls int
	aliasCalls      int
	updateCalls     []mealie.IngredientRef

	createUnitErr error
	aliasErr      error
	// 依食材 id 指定更新要失敗幾次
	updateFailures map[string]int

	onUpdate func(ref mealie.IngredientRef)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{updateFailures: make(map[string]int)}
}

func (f *fakeRemote) CreateUnit(ctx context.Context, name, abbreviation, description string) (*mealie.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createUnitCalls++
	if f.createUnitErr != nil {
		return nil, f.createUnitErr
	}
	unit := mealie.Unit{ID: fmt.Sprintf("unit-%d", f.createUnitCalls), Name: name, Abbreviation: abbreviation}
	f.units = append(f.units, unit)
	return &unit, nil
}

func (f *fakeRemote) CreateFood(ctx context.Context, name, description string) (*mealie.Food, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createFoodCalls++
	food := mealie.Food{ID: fmt.Sprintf("food-%d", f.createFoodCalls), Name: name}
	f.foods = append(f.foods, food)
	return &food, nil
}

func (f *fakeRemote) AddFoodAlias(ctx context.Context, foodID, alias string) (*mealie.Food, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliasCalls++
	if f.aliasErr != nil {
		return nil, f.aliasErr
	}
	for i := range f.foods {
		if f.foods[i].ID == foodID {
			f.foods[i].Aliases = append(f.foods[i].Aliases, mealie.Alias{Name: alias})
			return &f.foods[i], nil
		}
	}
	return nil, common.NewAPIError(common.KindNotFound, http.StatusNotFound, "food not found", nil)
}

func (f *fakeRemote) UpdateIngredient(ctx context.Context, ref mealie.IngredientRef, patch mealie.IngredientPatch) error {
	f.mu.Lock()
	f.updateCalls = append(f.updateCalls, ref)
	remaining := f.updateFailures[ref.IngredientID]
	if remaining > 0 {
		f.updateFailures[ref.IngredientID] = remaining - 1
	}
	onUpdate := f.onUpdate
	f.mu.Unlock()

	if onUpdate != nil {
		onUpdate(ref)
	}
	if remaining > 0 {
		return common.NewAPIError(common.KindOther, http.StatusInternalServerError, "update failed", nil)
	}
	return nil
}

func (f *fakeRemote) ListUnits(ctx context.Context, progress mealie.ProgressFunc) ([]mealie.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mealie.Unit{}, f.units...), nil
}

func (f *fakeRemote) ListFoods(ctx context.Context, progress mealie.ProgressFunc) ([]mealie.Food, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mealie.Food{}, f.foods...), nil
}

func refs(ids ...string) []mealie.IngredientRef {
	out := make([]mealie.IngredientRef, 0, len(ids))
	for i, id := range ids {
		out = append(out, mealie.IngredientRef{RecipeID: fmt.Sprintf("r%d", i+1), IngredientID: id})
	}
	return out
}

func createUnitOp(affected []mealie.IngredientRef) Operation {
	return Operation{
		Kind:        OpCreateUnit,
		PatternID:   "p-tsp",
		PatternText: "tsp",
		Payload:     Payload{Name: "teaspoon", Abbreviation: "tsp"},
		Affected:    affected,
	}
}

func TestExecuteCreateUnitAllOK(t *testing.T) {
	remote := newFakeRemote()
	executor := NewExecutor(remote, 4, nil)

	result := executor.Execute(context.Background(), createUnitOp(refs("i1", "i2", "i3")), &Catalogs{})

	if result.FinalStatus != StatusAllOK {
		t.Fatalf("expected all_ok, got %s (%s)", result.FinalStatus, result.AbortReason)
	}
	if remote.createUnitCalls != 1 {
		t.Fatalf("exactly one catalog create expected, got %d", remote.createUnitCalls)
	}
	if len(result.Succeeded) != 3 || len(result.Failed) != 0 {
		t.Fatalf("expected 3 succeeded / 0 failed, got %d/%d", len(result.Succeeded), len(result.Failed))
	}
	if result.CreatedEntityID == "" {
		t.Fatal("created entity id must be recorded")
	}
	if result.RefreshedUnits == nil {
		t.Fatal("unit catalog should be refreshed after creation")
	}
}

func TestExecutePreflightDuplicateAborts(t *testing.T) {
	remote := newFakeRemote()
	executor := NewExecutor(remote, 4, nil)
	catalogs := &Catalogs{
		Units: []mealie.Unit{{ID: "u1", Name: "teaspoon", Abbreviation: "tsp"}},
	}

	result := executor.Execute(context.Background(), createUnitOp(refs("i1")), catalogs)

	if result.FinalStatus != StatusAborted {
		t.Fatalf("expected aborted, got %s", result.FinalStatus)
	}
	if remote.createUnitCalls != 0 || len(remote.updateCalls) != 0 {
		t.Fatal("pre-flight failure must not issue any remote call")
	}
}

func TestExecuteCatalogFailureIssuesNoUpdates(t *testing.T) {
	remote := newFakeRemote()
	remote.createUnitErr = common.NewAPIError(common.KindOther, http.StatusInternalServerError, "boom", nil)
	executor := NewExecutor(remote, 4, nil)

	result := executor.Execute(context.Background(), createUnitOp(refs("i1", "i2")), &Catalogs{})

	if result.FinalStatus != StatusAborted {
		t.Fatalf("expected aborted, got %s", result.FinalStatus)
	}
	if len(remote.updateCalls) != 0 {
		t.Fatalf("aborted catalog mutation must issue zero ingredient updates, got %d", len(remote.updateCalls))
	}
}

func TestExecutePartialFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.updateFailures["i2"] = 10
	executor := NewExecutor(remote, 2, nil)

	result := executor.Execute(context.Background(), createUnitOp(refs("i1", "i2", "i3")), &Catalogs{})

	if result.FinalStatus != StatusPartial {
		t.Fatalf("expected partial, got %s", result.FinalStatus)
	}
	if len(result.Succeeded)+len(result.Failed) != 3 {
		t.Fatalf("succeeded+failed must equal total: %d+%d", len(result.Succeeded), len(result.Failed))
	}
	if len(result.Failed) != 1 || result.Failed[0].Ref.IngredientID != "i2" {
		t.Fatalf("expected exactly i2 to fail, got %+v", result.Failed)
	}
}

func TestRetryFailedDoesNotCreateSecondEntity(t *testing.T) {
	remote := newFakeRemote()
	remote.updateFailures["i2"] = 1
	executor := NewExecutor(remote, 2, nil)

	first := executor.Execute(context.Background(), createUnitOp(refs("i1", "i2", "i3")), &Catalogs{})
	if first.FinalStatus != StatusPartial {
		t.Fatalf("setup: expected partial, got %s", first.FinalStatus)
	}

	second := executor.RetryFailed(context.Background(), first)
	if second.FinalStatus != StatusAllOK {
		t.Fatalf("retry should succeed after remote recovers, got %s", second.FinalStatus)
	}
	if len(second.Succeeded) != 1 || len(second.Failed) != 0 {
		t.Fatalf("retry should cover exactly the failed set, got %d/%d",
			len(second.Succeeded), len(second.Failed))
	}
	if remote.createUnitCalls != 1 {
		t.Fatalf("retry must never create a second entity, got %d creates", remote.createUnitCalls)
	}
}

func TestRetryFailedPreservesPermanentFailures(t *testing.T) {
	remote := newFakeRemote()
	remote.updateFailures["i2"] = 100
	executor := NewExecutor(remote, 2, nil)

	first := executor.Execute(context.Background(), createUnitOp(refs("i1", "i2")), &Catalogs{})
	second := executor.RetryFailed(context.Background(), first)

	if second.FinalStatus != StatusAborted {
		t.Fatalf("retry of a still-failing set should abort, got %s", second.FinalStatus)
	}
	if len(second.Failed) != 1 || second.Failed[0].Ref.IngredientID != "i2" {
		t.Fatalf("failure set should be preserved, got %+v", second.Failed)
	}
}

func TestCancelStopsSubmission(t *testing.T) {
	remote := newFakeRemote()
	ctx, cancel := context.WithCancel(context.Background())
	remote.onUpdate = func(ref mealie.IngredientRef) {
		// 第一筆完成後取消，其餘不應再提交
		cancel()
	}

	executor := NewExecutor(remote, 1, nil)
	result := executor.Execute(ctx, createUnitOp(refs("i1", "i2", "i3")), &Catalogs{})

	if len(remote.updateCalls) >= 3 {
		t.Fatalf("cancellation must stop new submissions, saw %d updates", len(remote.updateCalls))
	}
	if result.FinalStatus != StatusPartial {
		t.Fatalf("in-flight successes must be collected, got %s", result.FinalStatus)
	}
	if len(result.Succeeded)+len(result.Failed) != 3 {
		t.Fatal("every affected ingredient must be accounted for")
	}
}

func TestAddAliasUnknownTargetAborts(t *testing.T) {
	remote := newFakeRemote()
	executor := NewExecutor(remote, 2, nil)

	op := Operation{
		Kind:           OpAddFoodAlias,
		PatternID:      "p-evoo",
		PatternText:    "evoo",
		Payload:        Payload{Name: "EVOO"},
		TargetEntityID: "missing",
		Affected:       refs("i1"),
	}
	result := executor.Execute(context.Background(), op, &Catalogs{})

	if result.FinalStatus != StatusAborted {
		t.Fatalf("unknown target must abort in pre-flight, got %s", result.FinalStatus)
	}
	if remote.aliasCalls != 0 {
		t.Fatal("pre-flight failure must not reach the remote")
	}
}

func TestAddAliasAppliesFoodToIngredients(t *testing.T) {
	remote := newFakeRemote()
	remote.foods = []mealie.Food{{ID: "f1", Name: "Olive Oil"}}
	executor := NewExecutor(remote, 2, nil)

	op := Operation{
		Kind:           OpAddFoodAlias,
		PatternID:      "p-evoo",
		PatternText:    "evoo",
		Payload:        Payload{Name: "EVOO"},
		TargetEntityID: "f1",
		Affected:       refs("i1", "i2"),
	}
	catalogs := &Catalogs{Foods: append([]mealie.Food{}, remote.foods...)}
	result := executor.Execute(context.Background(), op, catalogs)

	if result.FinalStatus != StatusAllOK {
		t.Fatalf("expected all_ok, got %s (%s)", result.FinalStatus, result.AbortReason)
	}
	if remote.aliasCalls != 1 {
		t.Fatalf("expected one alias mutation, got %d", remote.aliasCalls)
	}
	if result.RefreshedFoods == nil {
		t.Fatal("food catalog should be refreshed after alias creation")
	}
}

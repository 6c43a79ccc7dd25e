package mealie

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"mealie-resolver/internal/infrastructure/config"
	"mealie-resolver/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	perPage       = 100
	retryBaseWait = 250 * time.Millisecond
	retryMaxWait  = 5 * time.Second
)

// Client Mealie API 客戶端，所有對外請求的唯一出口。
// 可安全地從多個 goroutine 同時呼叫，連線池上限為 config.MaxPoolSize。
type Client struct {
	http   *resty.Client
	config *config.Config

	// 整食譜更新模式下，同一食譜的寫入必須序列化以免互相覆蓋
	recipeLevel bool
	recipeMu    sync.Mutex
	recipeLocks map[string]*sync.Mutex
}

// Option 客戶端選項
type Option func(*Client)

// WithRecipeLevelUpdates 改用整份食譜替換的方式更新食材，
// 供不支援單一食材端點的 Mealie 版本使用
func WithRecipeLevelUpdates() Option {
	return func(c *Client) {
		c.recipeLevel = true
	}
}

// NewClient 創建新的 Mealie 客戶端
func NewClient(cfg *config.Config, opts ...Option) *Client {
	transport := &http.Transport{
		MaxConnsPerHost:     config.MaxPoolSize,
		MaxIdleConnsPerHost: config.MaxPoolSize,
	}

	httpClient := resty.New().
		SetTransport(transport).
		SetBaseURL(strings.TrimRight(cfg.Mealie.URL, "/")).
		SetAuthToken(cfg.Mealie.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Mealie.Timeout).
		SetRetryCount(cfg.Mealie.MaxRetries).
		SetRetryWaitTime(retryBaseWait).
		SetRetryMaxWaitTime(retryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return common.ClassifyStatus(r.StatusCode()) == common.KindTransient && r.StatusCode() >= 400
		})

	c := &Client{
		http:        httpClient,
		config:      cfg,
		recipeLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close 關閉客戶端
func (c *Client) Close() {
	c.http.GetClient().CloseIdleConnections()
}

// apiError 將回應轉換為類型化錯誤
func apiError(resp *resty.Response, err error, operation string) error {
	if err != nil {
		// 網路層錯誤一律視為可重試
		return common.NewAPIError(common.KindTransient, 0,
			fmt.Sprintf("%s failed", operation), err)
	}
	kind := common.ClassifyStatus(resp.StatusCode())
	msg := fmt.Sprintf("%s failed with status %d", operation, resp.StatusCode())
	body := common.TruncateString(resp.String(), 200)
	if body != "" {
		msg = msg + ": " + body
	}
	return common.NewAPIError(kind, resp.StatusCode(), msg, nil)
}

// newIdempotencyKey 為單一邏輯寫入操作產生冪等性標記，
// 重試時沿用同一個值
func newIdempotencyKey() string {
	return uuid.NewString()
}

// listPaged 依 next 標記抓取全部分頁
func listPaged[T any](ctx context.Context, c *Client, path, operation string, progress ProgressFunc) ([]T, error) {
	var all []T
	pageNum := 1
	for {
		var result page[T]
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("page", fmt.Sprintf("%d", pageNum)).
			SetQueryParam("perPage", fmt.Sprintf("%d", perPage)).
			SetResult(&result).
			Get(path)
		if err != nil || resp.IsError() {
			return nil, apiError(resp, err, fmt.Sprintf("%s page %d", operation, pageNum))
		}

		all = append(all, result.Items...)
		common.LogDebug("抓取分頁完成",
			zap.String("endpoint", path),
			zap.Int("page", pageNum),
			zap.Int("items", len(result.Items)),
		)

		if progress != nil && result.Total > 0 {
			progress(len(all), result.Total)
		}

		if result.Next == "" || len(result.Items) == 0 {
			break
		}
		pageNum++
	}

	common.LogInfo("抓取清單完成",
		zap.String("endpoint", path),
		zap.Int("total", len(all)),
	)
	return all, nil
}

// ListRecipes 抓取全部食譜（含分頁）
func (c *Client) ListRecipes(ctx context.Context, progress ProgressFunc) ([]Recipe, error) {
	summaries, err := listPaged[Recipe](ctx, c, "/recipes", "fetch recipes", progress)
	if err != nil {
		return nil, err
	}

	// 清單端點不含食材，逐一抓取完整內容
	recipes := make([]Recipe, 0, len(summaries))
	for _, summary := range summaries {
		full, err := c.GetRecipe(ctx, summary.Slug)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, *full)
		if progress != nil {
			progress(len(recipes), len(summaries))
		}
	}
	return recipes, nil
}

// GetRecipe 抓取單一食譜的完整內容
func (c *Client) GetRecipe(ctx context.Context, slug string) (*Recipe, error) {
	var recipe Recipe
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&recipe).
		Get("/recipes/" + slug)
	if err != nil || resp.IsError() {
		return nil, apiError(resp, err, fmt.Sprintf("fetch recipe %q", slug))
	}
	return &recipe, nil
}

// ListUnits 抓取全部單位（含分頁）
func (c *Client) ListUnits(ctx context.Context, progress ProgressFunc) ([]Unit, error) {
	return listPaged[Unit](ctx, c, "/units", "fetch units", progress)
}

// ListFoods 抓取全部食材（含分頁）
func (c *Client) ListFoods(ctx context.Context, progress ProgressFunc) ([]Food, error) {
	return listPaged[Food](ctx, c, "/foods", "fetch foods", progress)
}

// CreateUnit 建立新單位。重複衝突時若伺服器回傳既有實體則視為成功。
func (c *Client) CreateUnit(ctx context.Context, name, abbreviation, description string) (*Unit, error) {
	body := map[string]interface{}{
		"name":            name,
		"abbreviation":    abbreviation,
		"description":     description,
		"fraction":        true,
		"useAbbreviation": false,
	}

	var unit Unit
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", newIdempotencyKey()).
		SetBody(body).
		SetResult(&unit).
		Post("/units")
	if err != nil || resp.IsError() {
		if entity := conflictEntity[Unit](resp, err); entity != nil {
			common.LogWarn("單位已存在，沿用既有實體",
				zap.String("name", name),
				zap.String("id", entity.ID),
			)
			return entity, nil
		}
		return nil, apiError(resp, err, fmt.Sprintf("create unit %q", name))
	}

	common.LogInfo("已建立單位",
		zap.String("name", name),
		zap.String("id", unit.ID),
	)
	return &unit, nil
}

// CreateFood 建立新食材。重複衝突時若伺服器回傳既有實體則視為成功。
func (c *Client) CreateFood(ctx context.Context, name, description string) (*Food, error) {
	body := map[string]interface{}{
		"name":        name,
		"description": description,
	}

	var food Food
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", newIdempotencyKey()).
		SetBody(body).
		SetResult(&food).
		Post("/foods")
	if err != nil || resp.IsError() {
		if entity := conflictEntity[Food](resp, err); entity != nil {
			common.LogWarn("食材已存在，沿用既有實體",
				zap.String("name", name),
				zap.String("id", entity.ID),
			)
			return entity, nil
		}
		return nil, apiError(resp, err, fmt.Sprintf("create food %q", name))
	}

	common.LogInfo("已建立食材",
		zap.String("name", name),
		zap.String("id", food.ID),
	)
	return &food, nil
}

// conflictEntity 409 回應若帶有既有實體內容則解析出來
func conflictEntity[T any](resp *resty.Response, err error) *T {
	if err != nil || resp == nil || resp.StatusCode() != http.StatusConflict {
		return nil
	}
	var entity T
	if parseErr := common.ParseJSONBytes(resp.Body(), &entity); parseErr != nil {
		return nil
	}
	// 只有帶 id 的回應才算既有實體
	switch e := any(&entity).(type) {
	case *Unit:
		if e.ID == "" {
			return nil
		}
	case *Food:
		if e.ID == "" {
			return nil
		}
	default:
		return nil
	}
	return &entity
}

// AddFoodAlias 為既有食材加入別名，已存在時視為成功（冪等）
func (c *Client) AddFoodAlias(ctx context.Context, foodID, alias string) (*Food, error) {
	var food Food
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&food).
		Get("/foods/" + foodID)
	if err != nil || resp.IsError() {
		return nil, apiError(resp, err, fmt.Sprintf("fetch food %s", foodID))
	}

	// 別名已存在即不需寫入
	if food.HasAlias(alias) {
		common.LogDebug("別名已存在",
			zap.String("food_id", foodID),
			zap.String("alias", alias),
		)
		return &food, nil
	}

	food.Aliases = append(food.Aliases, Alias{Name: alias})

	var updated Food
	resp, err = c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", newIdempotencyKey()).
		SetBody(&food).
		SetResult(&updated).
		Put("/foods/" + foodID)
	if err != nil || resp.IsError() {
		// 409 代表別名已被寫入（例如重試後的重複提交），重新讀取確認
		if respStatus(resp) == http.StatusConflict {
			return c.foodIfAliasBound(ctx, foodID, alias)
		}
		return nil, apiError(resp, err, fmt.Sprintf("add alias %q to food %s", alias, foodID))
	}

	common.LogInfo("已新增食材別名",
		zap.String("food", food.Name),
		zap.String("alias", alias),
	)
	return &updated, nil
}

// foodIfAliasBound 衝突後重新讀取，若別名確實已綁定則視為成功
func (c *Client) foodIfAliasBound(ctx context.Context, foodID, alias string) (*Food, error) {
	var food Food
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&food).
		Get("/foods/" + foodID)
	if err != nil || resp.IsError() {
		return nil, apiError(resp, err, fmt.Sprintf("refetch food %s", foodID))
	}
	if food.HasAlias(alias) {
		return &food, nil
	}
	return nil, common.NewAPIError(common.KindConflict, http.StatusConflict,
		fmt.Sprintf("alias %q conflicts on food %s but is not bound", alias, foodID), nil)
}

// AddUnitAlias 為既有單位加入別名，已存在時視為成功（冪等）
func (c *Client) AddUnitAlias(ctx context.Context, unitID, alias string) (*Unit, error) {
	var unit Unit
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&unit).
		Get("/units/" + unitID)
	if err != nil || resp.IsError() {
		return nil, apiError(resp, err, fmt.Sprintf("fetch unit %s", unitID))
	}

	if unit.HasAlias(alias) {
		return &unit, nil
	}

	unit.Aliases = append(unit.Aliases, Alias{Name: alias})

	var updated Unit
	resp, err = c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", newIdempotencyKey()).
		SetBody(&unit).
		SetResult(&updated).
		Put("/units/" + unitID)
	if err != nil || resp.IsError() {
		return nil, apiError(resp, err, fmt.Sprintf("add alias %q to unit %s", alias, unitID))
	}

	common.LogInfo("已新增單位別名",
		zap.String("unit", unit.Name),
		zap.String("alias", alias),
	)
	return &updated, nil
}

// UpdateIngredient 更新單一食材的單位或食材引用
func (c *Client) UpdateIngredient(ctx context.Context, ref IngredientRef, patch IngredientPatch) error {
	if c.recipeLevel {
		return c.updateIngredientViaRecipe(ctx, ref, patch)
	}
	return c.updateIngredientDirect(ctx, ref, patch)
}

// updateIngredientDirect 走單一食材端點
func (c *Client) updateIngredientDirect(ctx context.Context, ref IngredientRef, patch IngredientPatch) error {
	var ingredient map[string]interface{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&ingredient).
		Get("/recipes/ingredients/" + ref.IngredientID)
	if err != nil || resp.IsError() {
		return apiError(resp, err, fmt.Sprintf("fetch ingredient %s", ref.IngredientID))
	}

	applyPatch(ingredient, patch)

	resp, err = c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", newIdempotencyKey()).
		SetBody(ingredient).
		Put("/recipes/ingredients/" + ref.IngredientID)
	if err != nil || resp.IsError() {
		return apiError(resp, err, fmt.Sprintf("update ingredient %s", ref.IngredientID))
	}

	common.LogDebug("已更新食材",
		zap.String("ingredient_id", ref.IngredientID),
	)
	return nil
}

// updateIngredientViaRecipe 整份食譜替換模式。
// 同一食譜的寫入以鎖序列化，避免併發 read-modify-write 彼此覆蓋。
func (c *Client) updateIngredientViaRecipe(ctx context.Context, ref IngredientRef, patch IngredientPatch) error {
	lock := c.recipeLock(ref.RecipeID)
	lock.Lock()
	defer lock.Unlock()

	var recipe map[string]interface{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&recipe).
		Get("/recipes/" + ref.RecipeID)
	if err != nil || resp.IsError() {
		return apiError(resp, err, fmt.Sprintf("fetch recipe %s", ref.RecipeID))
	}

	ingredients, _ := recipe["recipeIngredient"].([]interface{})
	found := false
	for _, raw := range ingredients {
		ing, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if id, _ := ing["referenceId"].(string); id == ref.IngredientID {
			applyPatch(ing, patch)
			found = true
			break
		}
	}
	if !found {
		return common.NewAPIError(common.KindNotFound, http.StatusNotFound,
			fmt.Sprintf("ingredient %s not found in recipe %s", ref.IngredientID, ref.RecipeID), nil)
	}

	resp, err = c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", newIdempotencyKey()).
		SetBody(recipe).
		Put("/recipes/" + ref.RecipeID)
	if err != nil || resp.IsError() {
		return apiError(resp, err, fmt.Sprintf("update recipe %s", ref.RecipeID))
	}
	return nil
}

// recipeLock 取得指定食譜的寫入鎖
func (c *Client) recipeLock(recipeID string) *sync.Mutex {
	c.recipeMu.Lock()
	defer c.recipeMu.Unlock()
	lock, ok := c.recipeLocks[recipeID]
	if !ok {
		lock = &sync.Mutex{}
		c.recipeLocks[recipeID] = lock
	}
	return lock
}

// applyPatch 套用更新內容到食材物件
func applyPatch(ingredient map[string]interface{}, patch IngredientPatch) {
	if patch.UnitID != nil {
		ingredient["unit"] = map[string]interface{}{"id": *patch.UnitID}
	}
	if patch.FoodID != nil {
		ingredient["food"] = map[string]interface{}{"id": *patch.FoodID}
	}
}

// ParseNotes 呼叫 Mealie 的食材解析端點，結果僅供參考
func (c *Client) ParseNotes(ctx context.Context, texts []string, parser string) ([]ParsedHint, error) {
	if parser == "" {
		parser = c.config.Mealie.Parser
	}
	body := map[string]interface{}{
		"parser":      parser,
		"ingredients": texts,
	}

	var raw []struct {
		Input      string  `json:"input"`
		Confidence struct {
			Average float64 `json:"average"`
		} `json:"confidence"`
		Ingredient struct {
			Unit *UnitRef `json:"unit"`
			Food *FoodRef `json:"food"`
		} `json:"ingredient"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&raw).
		Post("/parser/ingredients")
	if err != nil || resp.IsError() {
		return nil, apiError(resp, err, "parse ingredients")
	}

	hints := make([]ParsedHint, 0, len(raw))
	for _, item := range raw {
		hint := ParsedHint{Input: item.Input, Confidence: item.Confidence.Average}
		if item.Ingredient.Unit != nil {
			hint.UnitName = item.Ingredient.Unit.Name
			if hint.UnitName == "" {
				hint.UnitName = item.Ingredient.Unit.Abbreviation
			}
		}
		if item.Ingredient.Food != nil {
			hint.FoodName = item.Ingredient.Food.Name
		}
		hints = append(hints, hint)
	}

	common.LogDebug("解析食材完成",
		zap.String("parser", parser),
		zap.Int("count", len(hints)),
	)
	return hints, nil
}

// respStatus 安全取得回應狀態碼
func respStatus(resp *resty.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode()
}

// hasAlias 檢查別名清單是否已包含指定別名（不分大小寫）
func hasAlias(aliases []Alias, alias string) bool {
	target := strings.ToLower(strings.TrimSpace(alias))
	for _, a := range aliases {
		if strings.ToLower(strings.TrimSpace(a.Name)) == target {
			return true
		}
	}
	return false
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mealie-resolver/internal/core/batch"
	"mealie-resolver/internal/core/hintcache"
	"mealie-resolver/internal/core/mealie"
	"mealie-resolver/internal/core/orchestrator"
	"mealie-resolver/internal/core/pattern"
	"mealie-resolver/internal/core/session"
	"mealie-resolver/internal/infrastructure/config"
	"mealie-resolver/internal/pkg/common"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 載入 .env
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found")
	}

	var (
		patternID    = flag.String("pattern", "", "要處理的樣式 id")
		action       = flag.String("action", "", "操作：create_unit、create_food 或 add_alias")
		name         = flag.String("name", "", "新單位/食材名稱或別名文字")
		abbreviation = flag.String("abbreviation", "", "新單位縮寫")
		description  = flag.String("description", "", "新單位/食材描述")
		target       = flag.String("target", "", "add_alias 的目標食材 id")
		skipID       = flag.String("skip", "", "跳過指定樣式")
		unskipID     = flag.String("unskip", "", "取消跳過指定樣式")
		retryID      = flag.String("retry", "", "重試指定樣式上次失敗的食材")
		discard      = flag.Bool("discard-session", false, "清除工作階段檔案後重新開始")
		withHints    = flag.Bool("hints", false, "掃描時附帶解析服務的建議")
		recipeLevel  = flag.Bool("recipe-level-updates", false, "改用整份食譜替換模式更新食材")
	)
	flag.Parse()

	// 載入設定
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化 logger（需在載入 config 後）
	if err := common.InitLogger(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer common.Sync()

	common.LogInfo("載入設定",
		zap.String("mealie_url", cfg.Mealie.URL),
		zap.String("mealie_api_key", config.MaskAPIKey(cfg.Mealie.APIKey)),
		zap.Int("batch_width", cfg.Batch.Width),
	)

	// 中斷信號轉為 context 取消：fan-out 停止提交並等待在途請求
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []mealie.Option
	if *recipeLevel {
		opts = append(opts, mealie.WithRecipeLevelUpdates())
	}
	client := mealie.NewClient(cfg, opts...)
	defer client.Close()

	store := session.NewStore(cfg.Session.FilePath)

	// 可選的 Redis 快取後端
	hintSvc, err := hintcache.NewService(&cfg.Cache)
	if err != nil {
		common.LogWarn("Redis 快取初始化失敗，只使用記憶體快取", zap.Error(err))
		hintSvc = nil
	}

	progress := func(completed, total int) {
		fmt.Printf("\r  更新中 %d/%d", completed, total)
		if completed == total {
			fmt.Println()
		}
	}

	orch := orchestrator.New(cfg, client, store, progress)
	if hintSvc != nil {
		orch.WithHintService(hintSvc)
	}
	defer orch.Close()

	if *discard {
		if err := orch.DiscardSession(); err != nil {
			common.LogFatal("清除工作階段失敗", zap.Error(err))
		}
		fmt.Println("已清除工作階段檔案")
		if *patternID == "" && *skipID == "" && *unskipID == "" && *retryID == "" {
			return
		}
	}

	if err := orch.Start(ctx); err != nil {
		common.LogFatal("啟動失敗", zap.Error(err))
	}

	switch orch.Outcome() {
	case orchestrator.OutcomeResumed:
		state := orch.State()
		fmt.Printf("已接續工作階段：%d 完成、%d 跳過\n",
			len(state.CompletedPatternIDs), len(state.SkippedPatternIDs))
	case orchestrator.OutcomeCorrupted, orchestrator.OutcomeIncompatible:
		fmt.Printf("工作階段檔案無法使用（%s）。以 -discard-session 清除後重新開始，本次以空白狀態繼續。\n",
			orch.Outcome())
	}

	switch {
	case *skipID != "":
		exitOnError(orch.Skip(*skipID))
		fmt.Printf("已跳過樣式 %s\n", *skipID)

	case *unskipID != "":
		exitOnError(orch.Unskip(*unskipID))
		fmt.Printf("樣式 %s 回到待處理\n", *unskipID)

	case *retryID != "":
		result, err := orch.RetryFailed(ctx, *retryID)
		exitOnError(err)
		printResult(result)

	case *patternID != "":
		decision, err := buildDecision(*action, *name, *abbreviation, *description, *target)
		exitOnError(err)
		printPreview(orch, *patternID)
		result, err := orch.Execute(ctx, *patternID, decision)
		exitOnError(err)
		printResult(result)

	default:
		scan(ctx, orch, *withHints)
	}

	if err := orch.Finish(); err != nil {
		common.LogError("寫入最終工作階段失敗", zap.Error(err))
	}
}

func exitOnError(err error) {
	if err != nil {
		common.LogError("操作失敗", zap.Error(err))
		fmt.Printf("錯誤：%v\n", err)
		common.Sync()
		os.Exit(1)
	}
}

// buildDecision 由旗標組出操作者決定
func buildDecision(action, name, abbreviation, description, target string) (orchestrator.Decision, error) {
	switch action {
	case "create_unit":
		return orchestrator.Decision{
			Kind:         batch.OpCreateUnit,
			Name:         name,
			Abbreviation: abbreviation,
			Description:  description,
		}, nil
	case "create_food":
		return orchestrator.Decision{
			Kind:        batch.OpCreateFood,
			Name:        name,
			Description: description,
		}, nil
	case "add_alias":
		return orchestrator.Decision{
			Kind:           batch.OpAddFoodAlias,
			Name:           name,
			TargetEntityID: target,
		}, nil
	}
	return orchestrator.Decision{}, fmt.Errorf("unknown action %q (create_unit, create_food, add_alias)", action)
}

// printPreview 執行前列出受影響的食材範圍
func printPreview(orch *orchestrator.Orchestrator, patternID string) {
	g, err := orch.Pattern(patternID)
	if err != nil {
		return
	}
	fmt.Printf("樣式 %q（%s）：%d 筆食材、%d 份食譜\n",
		g.DisplayText, g.Kind, len(g.IngredientRefs), len(g.RecipeIDs))
	for _, id := range g.RecipeIDs {
		fmt.Printf("  - %s\n", orch.RecipeName(id))
	}
}

// printResult 顯示批次結果與重試路徑
func printResult(result *batch.Result) {
	switch result.FinalStatus {
	case batch.StatusAllOK:
		fmt.Printf("完成：%d 筆食材已更新\n", len(result.Succeeded))
	case batch.StatusPartial:
		fmt.Printf("部分完成：%d 成功、%d 失敗。以 -retry %s 重試失敗部分。\n",
			len(result.Succeeded), len(result.Failed), result.Op.PatternID)
		for _, f := range result.Failed {
			fmt.Printf("  - %s：%s\n", f.Ref.IngredientID, f.Message)
		}
	case batch.StatusAborted:
		fmt.Printf("已中止：%s\n", result.AbortReason)
	}
}

// scan 預設模式：列出所有樣式群組與狀態
func scan(ctx context.Context, orch *orchestrator.Orchestrator, withHints bool) {
	groups := orch.Patterns()
	if len(groups) == 0 {
		fmt.Println("沒有未解析的食材")
		return
	}

	fmt.Printf("%d 個樣式群組：\n", len(groups))
	for _, g := range groups {
		fmt.Printf("  [%s] %-8s %-30q %3d 筆食材 %3d 份食譜",
			g.ID[:8], g.Kind, g.DisplayText, len(g.IngredientRefs), len(g.RecipeIDs))
		if g.Status != pattern.StatusPending {
			fmt.Printf("  (%s)", g.Status)
		}
		if len(g.SimilarGroupIDs) > 0 {
			fmt.Printf("  相似：%d", len(g.SimilarGroupIDs))
		}
		fmt.Println()
	}

	if withHints {
		texts := make([]string, 0, len(groups))
		for _, g := range groups {
			texts = append(texts, g.DisplayText)
		}
		hints, err := orch.ParseHints(ctx, texts)
		if err == nil && len(hints) > 0 {
			fmt.Println("解析服務建議：")
			for _, h := range hints {
				if h.UnitName == "" && h.FoodName == "" {
					continue
				}
				fmt.Printf("  %-30q 單位=%q 食材=%q (%.2f)\n", h.Input, h.UnitName, h.FoodName, h.Confidence)
			}
		}
	}
}

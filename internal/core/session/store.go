package session

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mealie-resolver/internal/pkg/common"

	"go.uber.org/zap"
)

// gzipThreshold 超過此大小的檔案以 gzip 壓縮存放
const gzipThreshold = 100 * 1024

// 載入失敗的三種結果，呼叫端在紀錄中必須能區分
var (
	ErrMissing            = errors.New("session file missing")
	ErrCorrupted          = errors.New("session file corrupted")
	ErrIncompatibleSchema = errors.New("session file schema incompatible")

	errSetNotDistinct = errors.New("pattern id sets contain duplicates")
	errSetsOverlap    = errors.New("completed and skipped sets overlap")
)

// Store 工作階段持久化，單一 JSON 檔案。
// Save 不可併發呼叫，由 Orchestrator 負責序列化。
type Store struct {
	path string
}

// NewStore 創建新的工作階段儲存
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path 回傳工作階段檔案路徑
func (s *Store) Path() string {
	return s.path
}

// Exists 工作階段檔案是否存在
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save 原子寫入：先寫同目錄暫存檔再 rename。
// 序列化內容超過門檻時以 gzip 壓縮。
func (s *Store) Save(state *State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	if len(data) > gzipThreshold {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return fmt.Errorf("failed to compress session state: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to compress session state: %w", err)
		}
		data = buf.Bytes()
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write session temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	common.LogDebug("已儲存工作階段",
		zap.String("path", s.path),
		zap.Int("completed", len(state.CompletedPatternIDs)),
		zap.Int("skipped", len(state.SkippedPatternIDs)),
	)
	return nil
}

// Load 載入工作階段狀態。
// 失敗回傳 ErrMissing、ErrCorrupted 或 ErrIncompatibleSchema。
func (s *Store) Load() (*State, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			common.LogDebug("找不到工作階段檔案", zap.String("path", s.path))
			return nil, ErrMissing
		}
		common.LogError("讀取工作階段檔案失敗", zap.Error(err))
		return nil, ErrCorrupted
	}

	// gzip 魔術位元組開頭代表壓縮過的檔案
	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			common.LogError("解壓工作階段檔案失敗", zap.Error(err))
			return nil, ErrCorrupted
		}
		decompressed, err := io.ReadAll(gz)
		if err != nil {
			common.LogError("解壓工作階段檔案失敗", zap.Error(err))
			return nil, ErrCorrupted
		}
		raw = decompressed
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		common.LogError("工作階段檔案格式損毀", zap.Error(err))
		return nil, ErrCorrupted
	}

	if state.SchemaVersion != SchemaVersion {
		common.LogWarn("工作階段檔案版本不相容",
			zap.String("found", state.SchemaVersion),
			zap.String("expected", SchemaVersion),
		)
		return nil, ErrIncompatibleSchema
	}

	// 集合不變量被破壞的檔案降級為損毀
	if err := state.validate(); err != nil {
		common.LogError("工作階段檔案不變量檢查失敗", zap.Error(err))
		return nil, ErrCorrupted
	}

	common.LogInfo("已載入工作階段",
		zap.String("session_id", state.SessionID),
		zap.Int("completed", len(state.CompletedPatternIDs)),
		zap.Int("skipped", len(state.SkippedPatternIDs)),
	)
	return &state, nil
}

// Discard 刪除工作階段檔案
func (s *Store) Discard() error {
	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to discard session file: %w", err)
	}
	common.LogInfo("已清除工作階段檔案", zap.String("path", s.path))
	return nil
}

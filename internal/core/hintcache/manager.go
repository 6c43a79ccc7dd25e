package hintcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"mealie-resolver/internal/core/mealie"
	"mealie-resolver/internal/infrastructure/config"
	"mealie-resolver/internal/pkg/common"

	"go.uber.org/zap"
)

// Manager 解析提示的記憶體快取。
// 解析端點僅供參考且成本高，重複的食材文字不需要重問。
type Manager struct {
	config *config.CacheConfig
	mu     sync.RWMutex
	store  map[string]entry
	stats  stats
	done   chan struct{}
}

type entry struct {
	hint       mealie.ParsedHint
	expiresAt  time.Time
	lastAccess time.Time
}

type stats struct {
	hits      int64
	misses    int64
	evictions int64
}

// NewManager 創建新的快取管理器，停用時回傳 nil
func NewManager(cfg *config.CacheConfig) *Manager {
	if !cfg.Enabled {
		common.LogInfo("解析提示快取已停用")
		return nil
	}

	m := &Manager{
		config: cfg,
		store:  make(map[string]entry),
		done:   make(chan struct{}),
	}

	// 啟動清理過期項目的協程
	go m.startCleanup()

	common.LogInfo("解析提示快取已初始化",
		zap.Int("最大容量", cfg.MaxSize),
		zap.Duration("存活時間", cfg.TTL),
	)
	return m
}

// Key 由解析器與文字導出快取鍵
func Key(parser, text string) string {
	hash := sha256.Sum256([]byte(parser + "\x1f" + text))
	return hex.EncodeToString(hash[:])
}

// Get 獲取快取的解析提示
func (m *Manager) Get(parser, text string) (mealie.ParsedHint, bool) {
	if m == nil {
		return mealie.ParsedHint{}, false
	}

	key := Key(parser, text)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.store[key]
	if !ok {
		m.stats.misses++
		common.LogCacheMiss("parse_hint")
		return mealie.ParsedHint{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(m.store, key)
		m.stats.evictions++
		m.stats.misses++
		return mealie.ParsedHint{}, false
	}

	e.lastAccess = time.Now()
	m.store[key] = e
	m.stats.hits++
	common.LogCacheHit("parse_hint")
	return e.hint, true
}

// Set 寫入解析提示
func (m *Manager) Set(parser, text string, hint mealie.ParsedHint) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.store) >= m.config.MaxSize {
		m.evictLRU()
	}

	now := time.Now()
	m.store[Key(parser, text)] = entry{
		hint:       hint,
		expiresAt:  now.Add(m.config.TTL),
		lastAccess: now,
	}
}

// startCleanup 週期清理過期項目
func (m *Manager) startCleanup() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

// cleanup 移除過期項目
func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	count := 0
	for key, e := range m.store {
		if now.After(e.expiresAt) {
			delete(m.store, key)
			m.stats.evictions++
			count++
		}
	}
	if count > 0 {
		common.LogDebug("已清理過期解析提示",
			zap.Int("count", count),
			zap.Int("remaining", len(m.store)),
		)
	}
}

// evictLRU 淘汰最久未使用的項目
func (m *Manager) evictLRU() {
	var oldestKey string
	var oldestAccess time.Time
	for key, e := range m.store {
		if oldestKey == "" || e.lastAccess.Before(oldestAccess) {
			oldestKey = key
			oldestAccess = e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(m.store, oldestKey)
		m.stats.evictions++
	}
}

// Close 關閉快取管理器
func (m *Manager) Close() {
	if m == nil {
		return
	}
	close(m.done)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = make(map[string]entry)
	common.LogInfo("解析提示快取已關閉",
		zap.Int64("命中次數", m.stats.hits),
		zap.Int64("未命中次數", m.stats.misses),
		zap.Int64("淘汰次數", m.stats.evictions),
	)
}

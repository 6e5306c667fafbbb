// Package rendercache 把合成结果按（模型、风格、上扬开关、AudioQuery）缓存到 SQLite。
// 渲染是确定性的，命中时返回的 WAV 与重新合成逐字节一致。
package rendercache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iabetor/pivox/internal/database"
	"github.com/iabetor/pivox/internal/logger"
	"github.com/iabetor/pivox/internal/query"
)

const versionKey = "render_cache.version"

// Stats 是缓存的统计信息。
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
	MaxSize int64 `json:"max_size"`
}

// Cache 管理合成结果缓存。
type Cache struct {
	db      *database.DB
	maxSize int64 // 最大缓存大小（字节），0 表示禁用缓存

	mu   sync.Mutex
	tick int64
}

// New 创建缓存。maxBytes 为 0 时缓存被禁用，Get 总是未命中。
// version 与上次记录的不同时清空已有条目，渲染算法变化后旧结果不再有效。
func New(db *database.DB, maxBytes int64, version string) (*Cache, error) {
	c := &Cache{db: db, maxSize: maxBytes}
	if !c.Enabled() {
		return c, nil
	}
	if err := db.Migrate(); err != nil {
		return nil, err
	}

	prev, ok, err := db.GetConfig(versionKey)
	if err != nil {
		return nil, err
	}
	if ok && prev != version {
		n, err := c.Clear()
		if err != nil {
			return nil, err
		}
		logger.Infof("[cache] 引擎版本变化 %s → %s，清除 %d 条缓存", prev, version, n)
	}
	if err := db.SetConfig(versionKey, version); err != nil {
		return nil, err
	}

	var last sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(last_used) FROM render_cache`).Scan(&last); err != nil {
		return nil, fmt.Errorf("读取缓存索引失败: %w", err)
	}
	c.tick = last.Int64

	st, _ := c.Stats()
	logger.Infof("[cache] 缓存已加载: %d 条, %d 字节, 数据库 %s", st.Entries, st.Bytes, db.Path())
	return c, nil
}

// Enabled 返回缓存是否启用。
func (c *Cache) Enabled() bool {
	return c != nil && c.maxSize > 0
}

// Key 计算缓存键。
func Key(modelID uuid.UUID, style uint32, upspeak bool, q *query.AudioQuery) (string, error) {
	doc, err := query.Marshal(q)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(modelID[:])
	var buf [5]byte
	binary.BigEndian.PutUint32(buf[:4], style)
	if upspeak {
		buf[4] = 1
	}
	h.Write(buf[:])
	h.Write([]byte(doc))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// next 返回单调递增的访问序号，用于 LRU 排序（调用方需持有锁）。
func (c *Cache) next() int64 {
	now := time.Now().UnixNano()
	if now <= c.tick {
		now = c.tick + 1
	}
	c.tick = now
	return now
}

// Get 查找缓存，命中时更新访问时间。
func (c *Cache) Get(key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var wav []byte
	err := c.db.QueryRow(`SELECT wav FROM render_cache WHERE cache_key = ?`, key).Scan(&wav)
	if err != nil {
		if err != sql.ErrNoRows {
			logger.Warnf("[cache] 读取缓存失败: %v", err)
		}
		return nil, false
	}
	if _, err := c.db.Exec(`UPDATE render_cache SET hits = hits + 1, last_used = ? WHERE cache_key = ?`, c.next(), key); err != nil {
		logger.Warnf("[cache] 更新访问时间失败: %v", err)
	}
	return wav, true
}

// Put 写入缓存并按 LRU 淘汰超出上限的条目。单条超过上限时不缓存。
func (c *Cache) Put(key string, modelID uuid.UUID, style uint32, wav []byte) error {
	if !c.Enabled() || int64(len(wav)) > c.maxSize {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`INSERT INTO render_cache (cache_key, model_id, style_id, wav, size, last_used)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET wav = excluded.wav, size = excluded.size, last_used = excluded.last_used`,
		key, modelID.String(), style, wav, len(wav), c.next())
	if err != nil {
		return fmt.Errorf("写入缓存失败: %w", err)
	}
	_, err = c.evictLocked()
	return err
}

// Prune 淘汰最久未使用的条目直到总大小不超过上限，返回删除的条目数。
func (c *Cache) Prune() (int, error) {
	if !c.Enabled() {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked()
}

func (c *Cache) evictLocked() (int, error) {
	var total int64
	if err := c.db.QueryRow(`SELECT COALESCE(SUM(size), 0) FROM render_cache`).Scan(&total); err != nil {
		return 0, fmt.Errorf("统计缓存大小失败: %w", err)
	}
	if total <= c.maxSize {
		return 0, nil
	}

	rows, err := c.db.Query(`SELECT cache_key, size FROM render_cache ORDER BY last_used ASC`)
	if err != nil {
		return 0, fmt.Errorf("读取缓存索引失败: %w", err)
	}
	var victims []string
	for rows.Next() && total > c.maxSize {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			rows.Close()
			return 0, fmt.Errorf("读取缓存索引失败: %w", err)
		}
		victims = append(victims, key)
		total -= size
	}
	rows.Close()

	for _, key := range victims {
		if _, err := c.db.Exec(`DELETE FROM render_cache WHERE cache_key = ?`, key); err != nil {
			return 0, fmt.Errorf("删除缓存失败: %w", err)
		}
	}
	if len(victims) > 0 {
		logger.Debugf("[cache] 淘汰 %d 条缓存", len(victims))
	}
	return len(victims), nil
}

// InvalidateModel 删除某个模型的全部缓存，模型文件被替换时调用。
func (c *Cache) InvalidateModel(modelID uuid.UUID) (int, error) {
	if !c.Enabled() {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.db.Exec(`DELETE FROM render_cache WHERE model_id = ?`, modelID.String())
	if err != nil {
		return 0, fmt.Errorf("删除模型缓存失败: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Clear 删除全部缓存。
func (c *Cache) Clear() (int, error) {
	res, err := c.db.Exec(`DELETE FROM render_cache`)
	if err != nil {
		return 0, fmt.Errorf("清空缓存失败: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats 返回缓存条目数和总大小。
func (c *Cache) Stats() (Stats, error) {
	st := Stats{}
	if !c.Enabled() {
		return st, nil
	}
	st.MaxSize = c.maxSize
	err := c.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM render_cache`).Scan(&st.Entries, &st.Bytes)
	if err != nil {
		return st, fmt.Errorf("统计缓存失败: %w", err)
	}
	return st, nil
}

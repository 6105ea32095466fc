package fleetd

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/betbot/botdash/internal/domain"
)

// LogStore bot 日志存储（Badger）
// key: log/<bot_id>/<倒序纳秒>/<id>，前缀扫描即得到最新在前的顺序
type LogStore struct {
	db *badger.DB
}

// LogStoreOptions 打开选项
type LogStoreOptions struct {
	Dir      string
	InMemory bool // 测试用
}

// OpenLogStore 打开日志存储
func OpenLogStore(opts LogStoreOptions) (*LogStore, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Dir) != "":
		bopts = badger.DefaultOptions(opts.Dir)
	default:
		return nil, errors.New("logstore: dir is required")
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &LogStore{db: db}, nil
}

// Close 关闭存储
func (s *LogStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func botPrefix(botID string) []byte {
	return []byte("log/" + botID + "/")
}

func logKey(e domain.LogEntry) []byte {
	inverted := math.MaxInt64 - e.Timestamp.UnixNano()
	return []byte(fmt.Sprintf("log/%s/%019d/%s", e.BotID, inverted, e.ID))
}

// Append 写入一条日志
func (s *LogStore) Append(e domain.LogEntry) error {
	if e.ID == "" || e.BotID == "" {
		return errors.New("logstore: id and bot_id are required")
	}
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(logKey(e), val)
	})
}

// Recent 返回某个 bot 最近的 limit 条日志（最新在前），level 非空时按级别过滤
func (s *LogStore) Recent(botID string, limit int, level string) ([]domain.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	level = strings.ToUpper(strings.TrimSpace(level))

	out := make([]domain.LogEntry, 0, min(limit, 128))
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := botPrefix(botID)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var e domain.LogEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			if level != "" && strings.ToUpper(string(e.Level)) != level {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBot 删除某个 bot 的全部日志
func (s *LogStore) DeleteBot(botID string) error {
	return s.db.DropPrefix(botPrefix(botID))
}

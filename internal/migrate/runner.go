// Package migrate 引导灌溉库表结构。
// 只支持向上迁移：扫描目录下 <版本>_<名称>_up.sql，按版本号升序执行，
// schema_migrations 记账保证幂等，每个版本独立事务，失败即停。
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Runner 迁移执行器
type Runner struct {
	Dir string
	Log *zap.Logger
}

type step struct {
	version int64
	name    string
	path    string
}

// Up 应用全部未执行的迁移，返回本次应用的版本数
func (r Runner) Up(ctx context.Context, db *pgxpool.Pool) (int, error) {
	if r.Dir == "" {
		return 0, errors.New("migrations dir is empty")
	}
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	steps, err := r.discover()
	if err != nil {
		return 0, err
	}
	if err := ensureLedger(ctx, db); err != nil {
		return 0, err
	}
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, s := range steps {
		if done[s.version] {
			continue
		}
		if err := applyStep(ctx, db, s); err != nil {
			return applied, fmt.Errorf("migration %d (%s): %w", s.version, s.name, err)
		}
		log.Info("migration applied",
			zap.Int64("version", s.version),
			zap.String("name", s.name))
		applied++
	}
	return applied, nil
}

// discover 扫描迁移目录。版本号取文件名下划线前的数字前缀，重复版本报错。
func (r Runner) discover() ([]step, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	seen := make(map[int64]string)
	var steps []step
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_up.sql") {
			continue
		}
		prefix, rest, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		ver, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			continue
		}
		if prev, dup := seen[ver]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", ver, prev, e.Name())
		}
		seen[ver] = e.Name()
		steps = append(steps, step{
			version: ver,
			name:    strings.TrimSuffix(rest, "_up.sql"),
			path:    filepath.Join(r.Dir, e.Name()),
		})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

func ensureLedger(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version BIGINT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`)
	return err
}

func appliedVersions(ctx context.Context, db *pgxpool.Pool) (map[int64]bool, error) {
	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	done := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = true
	}
	return done, rows.Err()
}

// applyStep 在单个事务内执行SQL并记账
func applyStep(ctx context.Context, db *pgxpool.Pool, s step) error {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, string(content)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, s.version); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

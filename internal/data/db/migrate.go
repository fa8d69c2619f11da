package db

import (
	types "github.com/zoonk/zoonk-sub009/internal/domain"
)

func (s *PostgresService) AutoMigrateAll() error {
	return s.db.AutoMigrate(
		&types.GenerationRun{},
		&types.Course{},
		&types.Chapter{},
		&types.Lesson{},
		&types.Activity{},
	)
}

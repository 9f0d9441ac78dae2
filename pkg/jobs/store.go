package jobs

import (
	"context"

	"github.com/cmoscardi/textbook-tts/models/tables"

	"xorm.io/xorm"
)

type SQLStore struct {
	engine *xorm.Engine
}

func NewSQLStore(engine *xorm.Engine) *SQLStore {
	return &SQLStore{engine: engine}
}

func (s *SQLStore) Insert(ctx context.Context, job *tables.Job) error {
	_, err := s.engine.Context(ctx).Insert(job)
	return err
}

func (s *SQLStore) Get(ctx context.Context, id string) (tables.Job, bool, error) {
	var job tables.Job
	has, err := s.engine.Context(ctx).ID(id).Get(&job)
	return job, has, err
}

func (s *SQLStore) Latest(ctx context.Context, fileID, kind string) (tables.Job, bool, error) {
	var job tables.Job
	has, err := s.engine.Context(ctx).
		Where("file_id = ? AND kind = ?", fileID, kind).
		Desc("created_at").
		Limit(1).
		Get(&job)
	return job, has, err
}

func (s *SQLStore) Update(ctx context.Context, job *tables.Job, cols ...string) error {
	_, err := s.engine.Context(ctx).ID(job.Id).Cols(cols...).Update(job)
	return err
}

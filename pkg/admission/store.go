package admission

import (
	"context"

	"github.com/cmoscardi/textbook-tts/models/tables"

	"xorm.io/xorm"
)

type SQLFileStore struct {
	engine *xorm.Engine
}

func NewSQLFileStore(engine *xorm.Engine) *SQLFileStore {
	return &SQLFileStore{engine: engine}
}

func (s *SQLFileStore) File(ctx context.Context, id string) (tables.File, bool, error) {
	var file tables.File
	has, err := s.engine.Context(ctx).ID(id).Get(&file)
	return file, has, err
}

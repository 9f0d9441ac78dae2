package assemble

import (
	"context"
	"strings"
	"time"

	"github.com/cmoscardi/textbook-tts/models/tables"

	"xorm.io/xorm"
)

type SQLStore struct {
	engine *xorm.Engine
}

func NewSQLStore(engine *xorm.Engine) *SQLStore {
	return &SQLStore{engine: engine}
}

// InsertPage maps the duplicate-key error from the unique (file, page
// number) index to ErrPageCommitted, so a redelivered worker result is
// recognizable instead of surfacing as a failure.
func (s *SQLStore) InsertPage(ctx context.Context, page *tables.Page) error {
	_, err := s.engine.Context(ctx).Insert(page)
	if err != nil && isDuplicateKey(err) {
		return ErrPageCommitted
	}
	return err
}

func (s *SQLStore) InsertSentences(ctx context.Context, sentences []tables.Sentence) error {
	if len(sentences) == 0 {
		return nil
	}
	_, err := s.engine.Context(ctx).Insert(&sentences)
	if err != nil && isDuplicateKey(err) {
		return ErrPageCommitted
	}
	return err
}

func (s *SQLStore) GetPage(ctx context.Context, fileID string, pageNumber int) (tables.Page, bool, error) {
	var page tables.Page
	has, err := s.engine.Context(ctx).
		Where("file_id = ? AND page_number = ?", fileID, pageNumber).
		Get(&page)
	return page, has, err
}

func (s *SQLStore) SaveParsedText(ctx context.Context, fileID, parsedText, rawMarkdown string) error {
	now := time.Now().UTC()
	file := tables.File{ParsedText: parsedText, RawMarkdown: rawMarkdown, ParsedAt: &now}
	_, err := s.engine.Context(ctx).ID(fileID).
		Cols("parsed_text", "raw_markdown", "parsed_at").
		Update(&file)
	return err
}

// ListPages returns the pages committed so far for a file, in page order.
func (s *SQLStore) ListPages(ctx context.Context, fileID string) ([]tables.Page, error) {
	var pages []tables.Page
	err := s.engine.Context(ctx).Where("file_id = ?", fileID).Asc("page_number").Find(&pages)
	return pages, err
}

// ListSentences returns the sentences committed so far, in reading order.
func (s *SQLStore) ListSentences(ctx context.Context, fileID string) ([]tables.Sentence, error) {
	var sentences []tables.Sentence
	err := s.engine.Context(ctx).Where("file_id = ?", fileID).Asc("seq").Find(&sentences)
	return sentences, err
}

// Sentence fetches one sentence by reading-order index.
func (s *SQLStore) Sentence(ctx context.Context, fileID string, index int64) (tables.Sentence, bool, error) {
	var sentence tables.Sentence
	has, err := s.engine.Context(ctx).Where("file_id = ? AND seq = ?", fileID, index).Get(&sentence)
	return sentence, has, err
}

// MySQL error 1062; matched on text so the mysql driver error type stays
// out of this package.
func isDuplicateKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Error 1062") || strings.Contains(msg, "Duplicate entry")
}

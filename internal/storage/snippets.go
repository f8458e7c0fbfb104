package storage

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gluk-w/teemux/internal/apperr"
	"github.com/gluk-w/teemux/internal/database"
	"github.com/gluk-w/teemux/internal/logutil"
)

// SnippetInput is the writable part of a snippet. Nil fields are left
// untouched on update.
type SnippetInput struct {
	Name         *string   `json:"name"`
	Description  *string   `json:"description"`
	Command      *string   `json:"command"`
	Tags         *[]string `json:"tags"`
	RunOnConnect *bool     `json:"run_on_connect"`
}

// GetSnippet returns the stored snippet, or nil when it does not exist.
func (s *Store) GetSnippet(id string) (*database.Snippet, error) {
	var rec database.Snippet
	err := s.db.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snippet %s: %w", id, err)
	}
	return &rec, nil
}

// GetSnippets loads the snippets named by ids in the order given. An unknown
// id is a NotFound error.
func (s *Store) GetSnippets(ids []string) ([]database.Snippet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []database.Snippet
	if err := s.db.Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, fmt.Errorf("load snippets: %w", err)
	}
	byID := make(map[string]database.Snippet, len(found))
	for _, sn := range found {
		byID[sn.ID] = sn
	}
	out := make([]database.Snippet, 0, len(ids))
	for _, id := range ids {
		sn, ok := byID[id]
		if !ok {
			return nil, apperr.New(apperr.KindNotFound, "Snippet not found: %s", id)
		}
		out = append(out, sn)
	}
	return out, nil
}

func (s *Store) ListSnippets() ([]database.Snippet, error) {
	var snippets []database.Snippet
	if err := s.db.Order("name").Find(&snippets).Error; err != nil {
		return nil, fmt.Errorf("list snippets: %w", err)
	}
	return snippets, nil
}

func (s *Store) CreateSnippet(in SnippetInput) (*database.Snippet, error) {
	rec := &database.Snippet{ID: uuid.New().String(), Tags: []string{}}
	applySnippetInput(rec, in)
	if err := validateSnippet(rec); err != nil {
		return nil, err
	}
	if err := s.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create snippet: %w", err)
	}
	log.Printf("[db] created snippet %s (%s)", rec.ID, logutil.SanitizeForLog(rec.Name))
	return rec, nil
}

func (s *Store) UpdateSnippet(id string, in SnippetInput) (*database.Snippet, error) {
	rec, err := s.GetSnippet(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.New(apperr.KindNotFound, "Snippet not found: %s", id)
	}
	applySnippetInput(rec, in)
	if err := validateSnippet(rec); err != nil {
		return nil, err
	}
	if err := s.db.Save(rec).Error; err != nil {
		return nil, fmt.Errorf("update snippet: %w", err)
	}
	return rec, nil
}

func (s *Store) DeleteSnippet(id string) error {
	res := s.db.Delete(&database.Snippet{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete snippet: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "Snippet not found: %s", id)
	}
	return nil
}

func applySnippetInput(rec *database.Snippet, in SnippetInput) {
	if in.Name != nil {
		rec.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		rec.Description = *in.Description
	}
	if in.Command != nil {
		rec.Command = strings.TrimRight(*in.Command, "\r\n")
	}
	if in.Tags != nil {
		rec.Tags = append([]string{}, *in.Tags...)
	}
	if in.RunOnConnect != nil {
		rec.RunOnConnect = *in.RunOnConnect
	}
}

func validateSnippet(rec *database.Snippet) error {
	if rec.Name == "" {
		return apperr.New(apperr.KindValidation, "Snippet name is required")
	}
	if strings.TrimSpace(rec.Command) == "" {
		return apperr.New(apperr.KindValidation, "Snippet command is required")
	}
	return nil
}

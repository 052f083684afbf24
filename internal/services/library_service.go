// internal/services/library_service.go
package services

import (
	"context"

	"github.com/Corphon/GamebookRuntime/internal/engine"
	"github.com/Corphon/GamebookRuntime/internal/loader"
	"github.com/Corphon/GamebookRuntime/internal/models"
	"github.com/Corphon/GamebookRuntime/internal/storage"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

// LibraryService manages the stored books. Books are validated before they
// are accepted so that a stored book can always be started.
type LibraryService struct {
	library *storage.BookLibrary
	logger  *utils.Logger
}

// NewLibraryService creates a library service.
func NewLibraryService(library *storage.BookLibrary) *LibraryService {
	return &LibraryService{
		library: library,
		logger:  utils.GetLogger(),
	}
}

// Import validates book and stores it. The returned id is the book's own id
// when usable.
func (s *LibraryService) Import(book *models.Book) (string, error) {
	if err := engine.ValidateBook(book); err != nil {
		return "", err
	}

	id, err := s.library.Save(book)
	if err != nil {
		return "", err
	}

	s.logger.Info("book imported", map[string]interface{}{
		"id":    id,
		"name":  book.Name,
		"pages": len(book.Pages),
	})
	return id, nil
}

// ImportJSON parses data as a story book and imports it.
func (s *LibraryService) ImportJSON(data []byte) (string, error) {
	book, err := loader.ParseBook(data)
	if err != nil {
		return "", err
	}
	return s.Import(book)
}

// ImportFrom resolves input with the loader, then imports the book.
func (s *LibraryService) ImportFrom(ctx context.Context, input any, opts ...loader.Option) (string, error) {
	l, err := loader.New(input, opts...)
	if err != nil {
		return "", err
	}
	book, err := l.Book(ctx)
	if err != nil {
		return "", err
	}
	return s.Import(book)
}

// Get returns a stored book.
func (s *LibraryService) Get(id string) (*models.Book, error) {
	return s.library.Get(id)
}

// List returns summaries of all stored books.
func (s *LibraryService) List() ([]storage.BookSummary, error) {
	books, err := s.library.List()
	if err != nil {
		return nil, err
	}
	if books == nil {
		books = []storage.BookSummary{}
	}
	return books, nil
}

// Delete removes a stored book.
func (s *LibraryService) Delete(id string) error {
	if err := s.library.Delete(id); err != nil {
		return err
	}
	s.logger.Info("book deleted", map[string]interface{}{"id": id})
	return nil
}

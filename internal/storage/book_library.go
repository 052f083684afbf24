// internal/storage/book_library.go
package storage

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/models"
)

const booksDir = "books"

var bookIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// BookSummary is the library listing entry for one book.
type BookSummary struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Author string   `json:"author,omitempty"`
	Blurb  string   `json:"blurb,omitempty"`
	Genres []string `json:"genres,omitempty"`
	Pages  int      `json:"pages"`
}

// BookLibrary keeps uploaded books as JSON files under <base>/books.
type BookLibrary struct {
	files *FileStorage
}

// NewBookLibrary wraps files.
func NewBookLibrary(files *FileStorage) *BookLibrary {
	return &BookLibrary{files: files}
}

// Save stores book and returns its library id. A book without a usable id
// gets a new one.
func (l *BookLibrary) Save(book *models.Book) (string, error) {
	if book == nil {
		return "", apperrors.NewValidationError("save book", apperrors.ErrNoStory)
	}

	id := book.ID
	if !bookIDPattern.MatchString(id) {
		id = uuid.NewString()
	}

	stored := *book
	stored.ID = id
	if err := l.files.SaveJSONFile(booksDir, id+".json", &stored); err != nil {
		return "", apperrors.NewProcessingError("save book", err)
	}
	return id, nil
}

// Get loads a book by id.
func (l *BookLibrary) Get(id string) (*models.Book, error) {
	if !bookIDPattern.MatchString(id) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("book %q", id), apperrors.ErrBookNotFound)
	}

	var book models.Book
	if err := l.files.LoadJSONFile(booksDir, id+".json", &book); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("book %q", id), apperrors.ErrBookNotFound)
		}
		return nil, apperrors.NewProcessingError(fmt.Sprintf("load book %q", id), err)
	}
	return &book, nil
}

// List summarizes every stored book, sorted by id.
func (l *BookLibrary) List() ([]BookSummary, error) {
	files, err := l.files.ListFiles(booksDir, ".json")
	if err != nil {
		return nil, apperrors.NewProcessingError("list books", err)
	}

	summaries := make([]BookSummary, 0, len(files))
	for _, name := range files {
		id := strings.TrimSuffix(name, ".json")
		if !bookIDPattern.MatchString(id) {
			continue
		}
		book, err := l.Get(id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, BookSummary{
			ID:     book.ID,
			Name:   book.Name,
			Author: book.Author,
			Blurb:  book.Blurb,
			Genres: book.Genres,
			Pages:  len(book.Pages),
		})
	}
	return summaries, nil
}

// Delete removes a book.
func (l *BookLibrary) Delete(id string) error {
	if !bookIDPattern.MatchString(id) {
		return apperrors.NewNotFoundError(fmt.Sprintf("book %q", id), apperrors.ErrBookNotFound)
	}
	if err := l.files.DeleteFile(booksDir, id+".json"); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperrors.NewNotFoundError(fmt.Sprintf("book %q", id), apperrors.ErrBookNotFound)
		}
		return apperrors.NewProcessingError(fmt.Sprintf("delete book %q", id), err)
	}
	return nil
}

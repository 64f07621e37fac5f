// Package announcement defines the news and activity records shown on the site.
package announcement

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultImage is used when a record has no image of its own.
const DefaultImage = "img/icon.png"

// DateLayout is the calendar date format of Announcement.Date.
const DateLayout = "2006-01-02"

// Kind names one of the two collections.
type Kind string

// Collection kinds.
const (
	News       Kind = "news"
	Activities Kind = "activities"
)

// Kinds lists every collection in a stable order.
var Kinds = []Kind{News, Activities}

// ParseKind converts a collection name into a Kind.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case News, Activities:
		return Kind(name), nil
	}
	return "", fmt.Errorf("unknown collection %q", name)
}

// Announcement is a single news or activity record.
type Announcement struct {
	ID      int64  `json:"id" bson:"id" validate:"gt=0"`
	Title   string `json:"title" bson:"title" validate:"required"`
	Date    string `json:"date" bson:"date" validate:"required,datetime=2006-01-02"`
	Content string `json:"content" bson:"content" validate:"required"`
	Image   string `json:"image" bson:"image"`
}

// ImageOrDefault returns the record's image, or DefaultImage when it has none.
func (a Announcement) ImageOrDefault() string {
	if strings.TrimSpace(a.Image) == "" {
		return DefaultImage
	}
	return a.Image
}

// Collection is an ordered list of records, newest first.
type Collection []Announcement

// Clone returns a copy that never aliases c and is never nil.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	copy(out, c)
	return out
}

// IndexOf returns the position of the record with the given id, or -1.
func (c Collection) IndexOf(id int64) int {
	for i, a := range c {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// MaxID returns the largest id in the collection, or 0 when it is empty.
func (c Collection) MaxID() int64 {
	var highest int64
	for _, a := range c {
		if a.ID > highest {
			highest = a.ID
		}
	}
	return highest
}

// Draft carries operator input for a new record.
type Draft struct {
	Title   string `json:"title" validate:"required"`
	Date    string `json:"date" validate:"required,datetime=2006-01-02"`
	Content string `json:"content" validate:"required"`
	Image   string `json:"image,omitempty"`
}

// Normalize trims surrounding whitespace from every field.
func (d Draft) Normalize() Draft {
	return Draft{
		Title:   strings.TrimSpace(d.Title),
		Date:    strings.TrimSpace(d.Date),
		Content: strings.TrimSpace(d.Content),
		Image:   strings.TrimSpace(d.Image),
	}
}

// ValidationError reports operator input that cannot be accepted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a normalized draft.
func (d Draft) Validate() error {
	return translate(validate.Struct(d))
}

// Validate checks a stored record, as found in an imported snapshot.
func (a Announcement) Validate() error {
	n := a
	n.Title = strings.TrimSpace(a.Title)
	n.Content = strings.TrimSpace(a.Content)
	return translate(validate.Struct(n))
}

// Validate checks every record and rejects duplicate ids.
func (c Collection) Validate() error {
	seen := make(map[int64]struct{}, len(c))
	for i, a := range c {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := seen[a.ID]; dup {
			return &ValidationError{Field: "id", Reason: fmt.Sprintf("%d appears more than once", a.ID)}
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}
	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: field, Reason: "is required"}
	case "datetime":
		return &ValidationError{Field: field, Reason: "must be a YYYY-MM-DD date"}
	case "gt":
		return &ValidationError{Field: field, Reason: "must be positive"}
	}
	return &ValidationError{Field: field, Reason: "failed " + fe.Tag()}
}

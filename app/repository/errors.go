package repository

import (
	"errors"

	"gorm.io/gorm"
)

// IsDuplicate reports whether err is a unique constraint violation. The
// database must be opened with TranslateError.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

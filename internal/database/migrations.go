package database

import (
	"github.com/charlesng35/magiclink/internal/models"
)

func migrationModels() []any {
	return []any{
		&models.StoreEntry{},
	}
}

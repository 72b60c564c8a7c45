package models

import (
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrateAll 建表和索引，启动时执行
func AutoMigrateAll(db *gorm.DB) error {
	for _, model := range []interface{}{&User{}, &Room{}, &Message{}} {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	return nil
}

// internal/storage/seed.go
package storage

import (
	"fmt"
	"log"

	"warehouse-sync-service/pkg/models"

	"gorm.io/gorm"
)

// seedTablePolicies populates the default resolution strategy per syncable
// table. Existing rows are left alone so operator edits survive restarts.
func seedTablePolicies(db *gorm.DB) error {

	policies := []models.TablePolicy{
		{
			Table:           models.TableEquipment,
			DefaultStrategy: models.ResolutionMerged,
			Description:     "Status and location favor the later timestamp; the specification object favors the side with more populated keys.",
		},
		{
			Table:           models.TableCategories,
			DefaultStrategy: models.ResolutionLastWins,
			Description:     "Low mutation rate; the later write always wins.",
		},
		{
			Table:           models.TableLocations,
			DefaultStrategy: models.ResolutionMerged,
			Description:     "Name, description and active flag favor the later timestamp.",
		},
		{
			Table:           models.TableShipments,
			DefaultStrategy: models.ResolutionMerged,
			Description:     "Status and delivered_at favor the later timestamp; equipment id lists are unioned, never overwritten.",
		},
		{
			Table:           models.TableStacks,
			DefaultStrategy: models.ResolutionLastWins,
			Description:     "Stack assignments follow the later write.",
		},
		{
			Table:           models.TableUsers,
			DefaultStrategy: models.ResolutionManual,
			Description:     "Concurrent edits to user records always go to an operator.",
		},
	}

	for _, p := range policies {
		var count int64
		db.Model(&models.TablePolicy{}).
			Where("table_name = ?", p.Table).
			Count(&count)

		if count == 0 {
			if err := db.Create(&p).Error; err != nil {
				return fmt.Errorf("failed to seed policy %s: %w", p.Table, err)
			}
			log.Printf("✅ Seeded table policy: %s → %s", p.Table, p.DefaultStrategy)
		}
	}
	return nil
}

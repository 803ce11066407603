package seeds

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"schoolops_backend/internals/seeds/classrooms"
)

func RunAllSeeds(db *gorm.DB, log *zap.Logger) error {
	//* Classrooms, weekly slots, enrollment
	return classrooms.SeedClassroomsFromJSON(db, "internals/seeds/classrooms/data_classrooms.json", log)
}

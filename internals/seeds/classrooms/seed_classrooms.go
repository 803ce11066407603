package classrooms

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	classModel "schoolops_backend/internals/features/school/classrooms/model"
	schedModel "schoolops_backend/internals/features/school/sessions/schedules/model"
)

type SlotSeed struct {
	Day             int     `json:"day"`   // 0 = Sunday
	Start           string  `json:"start"` // HH:MM
	End             string  `json:"end"`
	IntervalWeeks   int     `json:"interval_weeks"`
	WeekParity      string  `json:"week_parity"`
	WeeksOfMonth    []int64 `json:"weeks_of_month"`
	LastWeekOfMonth bool    `json:"last_week_of_month"`
	EffectiveFrom   string  `json:"effective_from"`
}

type StudentSeed struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
}

type ClassroomSeed struct {
	ClassroomID     uuid.UUID     `json:"classroom_id"`
	AcademyID       uuid.UUID     `json:"academy_id"`
	Name            string        `json:"name"`
	DefaultLocation *string       `json:"default_location"`
	Timezone        *string       `json:"timezone"`
	Slots           []SlotSeed    `json:"slots"`
	Students        []StudentSeed `json:"students"`
}

func parseClock(s string) (datatypes.Time, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("clock %q: %w", s, err)
	}
	return datatypes.NewTime(t.Hour(), t.Minute(), 0, 0), nil
}

// SeedClassroomsFromJSON inserts demo classrooms; rows that already exist are left alone.
func SeedClassroomsFromJSON(db *gorm.DB, filePath string, log *zap.Logger) error {
	log.Info("reading seed file", zap.String("path", filePath))

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seeds []ClassroomSeed
	if err := sonic.Unmarshal(raw, &seeds); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	for _, s := range seeds {
		if err := seedOne(db, s); err != nil {
			log.Error("seed classroom failed", zap.String("classroom", s.Name), zap.Error(err))
			continue
		}
		log.Info("seeded classroom", zap.String("classroom", s.Name), zap.Int("slots", len(s.Slots)), zap.Int("students", len(s.Students)))
	}
	return nil
}

func seedOne(db *gorm.DB, s ClassroomSeed) error {
	return db.Transaction(func(tx *gorm.DB) error {
		cls := classModel.ClassroomModel{
			ClassroomID:              s.ClassroomID,
			ClassroomAcademyID:       s.AcademyID,
			ClassroomName:            s.Name,
			ClassroomDefaultLocation: s.DefaultLocation,
			ClassroomTimezone:        s.Timezone,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&cls)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		for _, sl := range s.Slots {
			start, err := parseClock(sl.Start)
			if err != nil {
				return err
			}
			end, err := parseClock(sl.End)
			if err != nil {
				return err
			}
			row := schedModel.ClassroomScheduleModel{
				ClassroomScheduleClassroomID:     s.ClassroomID,
				ClassroomScheduleDay:             sl.Day,
				ClassroomScheduleStartTime:       start,
				ClassroomScheduleEndTime:         end,
				ClassroomScheduleIntervalWeeks:   max(sl.IntervalWeeks, 1),
				ClassroomScheduleWeekParity:      schedModel.WeekParityAll,
				ClassroomScheduleWeeksOfMonth:    pq.Int64Array(sl.WeeksOfMonth),
				ClassroomScheduleLastWeekOfMonth: sl.LastWeekOfMonth,
			}
			if sl.WeekParity != "" {
				row.ClassroomScheduleWeekParity = schedModel.WeekParityEnum(sl.WeekParity)
			}
			if sl.EffectiveFrom != "" {
				d, err := time.Parse("2006-01-02", sl.EffectiveFrom)
				if err != nil {
					return fmt.Errorf("effective_from %q: %w", sl.EffectiveFrom, err)
				}
				row.ClassroomScheduleEffectiveFrom = &d
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		for _, st := range s.Students {
			rec := classModel.StudentModel{
				StudentRecordID:  uuid.New(),
				StudentUserID:    st.UserID,
				StudentAcademyID: s.AcademyID,
				StudentName:      st.Name,
				StudentActive:    true,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
				return err
			}
			link := classModel.ClassroomStudentModel{
				ClassroomStudentClassroomID: s.ClassroomID,
				ClassroomStudentStudentID:   st.UserID,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

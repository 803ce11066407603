// file: internals/features/school/sessions/schedules/model/classroom_schedule_model.go
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type WeekParityEnum string

const (
	WeekParityAll  WeekParityEnum = "all"
	WeekParityOdd  WeekParityEnum = "odd"
	WeekParityEven WeekParityEnum = "even"
)

/* =========================
   Weekly slot of a classroom
========================= */

type ClassroomScheduleModel struct {
	ClassroomScheduleID          uuid.UUID `gorm:"type:uuid;primaryKey;column:classroom_schedule_id" json:"classroom_schedule_id"`
	ClassroomScheduleClassroomID uuid.UUID `gorm:"type:uuid;not null;index;column:classroom_schedule_classroom_id" json:"classroom_schedule_classroom_id"`

	// Pola mingguan, 0 = Sunday .. 6 = Saturday (time.Weekday)
	ClassroomScheduleDay       int            `gorm:"column:classroom_schedule_day;not null" json:"classroom_schedule_day"`
	ClassroomScheduleStartTime datatypes.Time `gorm:"column:classroom_schedule_start_time;type:time;not null" json:"classroom_schedule_start_time"`
	ClassroomScheduleEndTime   datatypes.Time `gorm:"column:classroom_schedule_end_time;type:time;not null" json:"classroom_schedule_end_time"`

	// Opsi pola
	ClassroomScheduleIntervalWeeks    int            `gorm:"column:classroom_schedule_interval_weeks;not null;default:1" json:"classroom_schedule_interval_weeks"`
	ClassroomScheduleStartOffsetWeeks int            `gorm:"column:classroom_schedule_start_offset_weeks;not null;default:0" json:"classroom_schedule_start_offset_weeks"`
	ClassroomScheduleWeekParity       WeekParityEnum `gorm:"column:classroom_schedule_week_parity;type:text;not null;default:'all'" json:"classroom_schedule_week_parity"`
	ClassroomScheduleWeeksOfMonth     pq.Int64Array  `gorm:"column:classroom_schedule_weeks_of_month;type:int[]" json:"classroom_schedule_weeks_of_month,omitempty"`
	ClassroomScheduleLastWeekOfMonth  bool           `gorm:"column:classroom_schedule_last_week_of_month;not null;default:false" json:"classroom_schedule_last_week_of_month"`

	// Batas berlaku, nil = open ended
	ClassroomScheduleEffectiveFrom  *time.Time `gorm:"column:classroom_schedule_effective_from;type:date" json:"classroom_schedule_effective_from,omitempty"`
	ClassroomScheduleEffectiveUntil *time.Time `gorm:"column:classroom_schedule_effective_until;type:date" json:"classroom_schedule_effective_until,omitempty"`

	ClassroomScheduleCreatedAt time.Time      `gorm:"column:classroom_schedule_created_at;autoCreateTime" json:"classroom_schedule_created_at"`
	ClassroomScheduleUpdatedAt time.Time      `gorm:"column:classroom_schedule_updated_at;autoUpdateTime" json:"classroom_schedule_updated_at"`
	ClassroomScheduleDeletedAt gorm.DeletedAt `gorm:"column:classroom_schedule_deleted_at;index" json:"-"`
}

func (ClassroomScheduleModel) TableName() string { return "classroom_schedules" }

func (cs *ClassroomScheduleModel) BeforeCreate(tx *gorm.DB) error {
	if cs.ClassroomScheduleID == uuid.Nil {
		cs.ClassroomScheduleID = uuid.New()
	}
	return nil
}

// file: internals/features/school/sessions/schedules/model/schedule_break_model.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ScheduleBreakModel suspends one classroom's meetings for an inclusive date range.
type ScheduleBreakModel struct {
	ScheduleBreakID          uuid.UUID `json:"schedule_break_id"            gorm:"column:schedule_break_id;type:uuid;primaryKey"`
	ScheduleBreakClassroomID uuid.UUID `json:"schedule_break_classroom_id"  gorm:"column:schedule_break_classroom_id;type:uuid;not null;index"`

	ScheduleBreakStartDate time.Time `json:"schedule_break_start_date"    gorm:"column:schedule_break_start_date;type:date;not null"`
	ScheduleBreakEndDate   time.Time `json:"schedule_break_end_date"      gorm:"column:schedule_break_end_date;type:date;not null"`
	ScheduleBreakReason    *string   `json:"schedule_break_reason,omitempty" gorm:"column:schedule_break_reason;type:text"`

	ScheduleBreakCreatedAt time.Time `json:"schedule_break_created_at"    gorm:"column:schedule_break_created_at;type:timestamptz;not null;autoCreateTime"`
	ScheduleBreakUpdatedAt time.Time `json:"schedule_break_updated_at"    gorm:"column:schedule_break_updated_at;type:timestamptz;not null;autoUpdateTime"`
}

func (ScheduleBreakModel) TableName() string { return "schedule_breaks" }

func (b *ScheduleBreakModel) BeforeCreate(tx *gorm.DB) error {
	if b.ScheduleBreakID == uuid.Nil {
		b.ScheduleBreakID = uuid.New()
	}
	return nil
}

// HolidayModel is an academy-wide day off; yearly holidays repeat on the same month/day.
type HolidayModel struct {
	HolidayID        uuid.UUID `json:"holiday_id"                gorm:"column:holiday_id;type:uuid;primaryKey"`
	HolidayAcademyID uuid.UUID `json:"holiday_academy_id"        gorm:"column:holiday_academy_id;type:uuid;not null;index"`

	HolidayStartDate time.Time `json:"holiday_start_date"        gorm:"column:holiday_start_date;type:date;not null"`
	HolidayEndDate   time.Time `json:"holiday_end_date"          gorm:"column:holiday_end_date;type:date;not null"`

	HolidayTitle  string  `json:"holiday_title"             gorm:"column:holiday_title;type:varchar(200);not null"`
	HolidayReason *string `json:"holiday_reason,omitempty"  gorm:"column:holiday_reason;type:text"`

	HolidayIsActive          bool `json:"holiday_is_active"           gorm:"column:holiday_is_active;not null;default:true"`
	HolidayIsRecurringYearly bool `json:"holiday_is_recurring_yearly" gorm:"column:holiday_is_recurring_yearly;not null;default:false"`

	HolidayCreatedAt time.Time      `json:"holiday_created_at"        gorm:"column:holiday_created_at;type:timestamptz;not null;autoCreateTime"`
	HolidayUpdatedAt time.Time      `json:"holiday_updated_at"        gorm:"column:holiday_updated_at;type:timestamptz;not null;autoUpdateTime"`
	HolidayDeletedAt gorm.DeletedAt `json:"holiday_deleted_at,omitempty" gorm:"column:holiday_deleted_at;index"`
}

func (HolidayModel) TableName() string { return "holidays" }

func (h *HolidayModel) BeforeCreate(tx *gorm.DB) error {
	if h.HolidayID == uuid.Nil {
		h.HolidayID = uuid.New()
	}
	return nil
}

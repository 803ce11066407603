package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"schoolops_backend/internals/configs"
	classModel "schoolops_backend/internals/features/school/classrooms/model"
	schedModel "schoolops_backend/internals/features/school/sessions/schedules/model"
	sessModel "schoolops_backend/internals/features/school/sessions/sessions/model"
)

var DB *gorm.DB

func ConnectDB(log *zap.Logger) error {
	log.Info("connecting to PostgreSQL")

	// PreferSimpleProtocol keeps PgBouncer (transaction pooling) happy
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  configs.DSN(),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 configs.NewGormLogger(log),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	DB = db
	log.Info("db connected")
	return nil
}

func TunePool(log *zap.Logger) {
	sqlDB, err := DB.DB()
	if err != nil {
		log.Warn("pool tune failed", zap.Error(err))
		return
	}
	sqlDB.SetMaxOpenConns(configs.GetInt("DB_MAX_OPEN_CONNS", 20))
	sqlDB.SetMaxIdleConns(configs.GetInt("DB_MAX_IDLE_CONNS", 10))
	sqlDB.SetConnMaxIdleTime(60 * time.Second)
	sqlDB.SetConnMaxLifetime(10 * time.Minute)
}

// WarmUpQueries fills the pool in the background once the server is up.
func WarmUpQueries(log *zap.Logger) {
	go func() {
		time.Sleep(500 * time.Millisecond)
		if err := Ping(); err != nil {
			log.Warn("warm-up ping failed", zap.Error(err))
		}
	}()
}

func Ping() error {
	if DB == nil {
		return fmt.Errorf("db not connected")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

/* =========================
   Migrations
========================= */

// Models returns every table this service reads or writes, parents first.
func Models() []any {
	return []any{
		&classModel.ClassroomModel{},
		&classModel.StudentModel{},
		&classModel.ClassroomStudentModel{},
		&schedModel.ClassroomScheduleModel{},
		&schedModel.ScheduleBreakModel{},
		&schedModel.HolidayModel{},
		&sessModel.ClassroomSessionModel{},
		&sessModel.AssignmentModel{},
		&sessModel.AssignmentAttachmentModel{},
		&sessModel.AssignmentGradeModel{},
		&sessModel.AttendanceModel{},
	}
}

// constraints gorm tags cannot express
var rawMigrations = []string{
	// one alive session per classroom and day; soft-deleted rows free the slot
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_classroom_sessions_classroom_date_alive
		ON classroom_sessions (session_classroom_id, session_date)
		WHERE session_deleted_at IS NULL`,
	// one attendance row per student per session
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_attendance_session_student
		ON attendance (attendance_session_id, attendance_student_id)`,
	`CREATE INDEX IF NOT EXISTS idx_classroom_sessions_classroom_date
		ON classroom_sessions (session_classroom_id, session_date)`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_session_alive
		ON assignments (assignment_session_id)
		WHERE assignment_deleted_at IS NULL`,
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range rawMigrations {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info("migrations applied", zap.Int("models", len(Models())), zap.Int("raw", len(rawMigrations)))
	return nil
}

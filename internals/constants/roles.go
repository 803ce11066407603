package constants

import "fmt"

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// WriterRoles may change sessions, assignments and attendance.
var WriterRoles = []string{RoleAdmin, RoleTeacher}

const ErrOnlyWritersCanAccess = "only a teacher or admin may access %s"

func RoleErrorWriter(feature string) string {
	return fmt.Sprintf(ErrOnlyWritersCanAccess, feature)
}

package domain

// Levels accepted by the quick generator.
var Levels = []string{"Beginner", "Intermediate", "Advanced"}

// QuickForm carries the quick generator's input fields.
type QuickForm struct {
	Skill         string `json:"skill" validate:"required,max=200"`
	Level         string `json:"level" validate:"required,oneof=Beginner Intermediate Advanced"`
	Semesters     int    `json:"semesters" validate:"min=1,max=8"`
	WeeklyHours   int    `json:"weekly_hours" validate:"min=10,max=40"`
	IndustryFocus string `json:"industry_focus" validate:"max=200"`
}

// DefaultQuickForm returns the form values shown before the user edits anything.
func DefaultQuickForm() QuickForm {
	return QuickForm{
		Level:       "Intermediate",
		Semesters:   4,
		WeeklyHours: 20,
	}
}

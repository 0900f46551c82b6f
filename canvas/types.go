package canvas

import "time"

// Course is a Canvas course as returned by /courses.
type Course struct {
	ID            int      `json:"id"`
	Name          string   `json:"name"`
	CourseCode    string   `json:"course_code"`
	WorkflowState string   `json:"workflow_state"`
	StartAt       *string  `json:"start_at,omitempty"`
	EndAt         *string  `json:"end_at,omitempty"`
	TotalStudents int      `json:"total_students,omitempty"`
	SyllabusBody  string   `json:"syllabus_body,omitempty"`
	Teachers      []User   `json:"teachers,omitempty"`
	Term          *Term    `json:"term,omitempty"`
	Enrollments   []string `json:"-"`
}

// Term is an enrollment term attached to a course.
type Term struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	StartAt *string `json:"start_at,omitempty"`
	EndAt   *string `json:"end_at,omitempty"`
}

// Assignment is a Canvas assignment.
type Assignment struct {
	ID              int         `json:"id"`
	CourseID        int         `json:"course_id"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	DueAt           *string     `json:"due_at,omitempty"`
	PointsPossible  float64     `json:"points_possible"`
	SubmissionTypes []string    `json:"submission_types,omitempty"`
	Published       bool        `json:"published"`
	HTMLURL         string      `json:"html_url,omitempty"`
	Submission      *Submission `json:"submission,omitempty"`
}

// Submission is a student's submission for an assignment.
type Submission struct {
	ID            int     `json:"id"`
	AssignmentID  int     `json:"assignment_id"`
	UserID        int     `json:"user_id"`
	Grade         string  `json:"grade,omitempty"`
	Score         float64 `json:"score,omitempty"`
	SubmittedAt   *string `json:"submitted_at,omitempty"`
	Late          bool    `json:"late"`
	Missing       bool    `json:"missing"`
	WorkflowState string  `json:"workflow_state"`
	SubmissionComments []SubmissionComment `json:"submission_comments,omitempty"`
}

// SubmissionComment is feedback attached to a submission.
type SubmissionComment struct {
	ID         int    `json:"id"`
	AuthorName string `json:"author_name"`
	Comment    string `json:"comment"`
	CreatedAt  string `json:"created_at"`
}

// Module is a Canvas course module.
type Module struct {
	ID       int          `json:"id"`
	Name     string       `json:"name"`
	Position int          `json:"position"`
	State    string       `json:"state,omitempty"`
	Items    []ModuleItem `json:"items,omitempty"`
}

// ModuleItem is a single entry within a module.
type ModuleItem struct {
	ID       int    `json:"id"`
	ModuleID int    `json:"module_id"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	HTMLURL  string `json:"html_url,omitempty"`
}

// DiscussionTopic is a Canvas discussion thread; announcements share the
// same shape.
type DiscussionTopic struct {
	ID        int     `json:"id"`
	Title     string  `json:"title"`
	Message   string  `json:"message,omitempty"`
	PostedAt  *string `json:"posted_at,omitempty"`
	UserName  string  `json:"user_name,omitempty"`
	HTMLURL   string  `json:"html_url,omitempty"`
	ReadState string  `json:"read_state,omitempty"`
}

// Quiz is a Canvas quiz.
type Quiz struct {
	ID             int     `json:"id"`
	Title          string  `json:"title"`
	QuizType       string  `json:"quiz_type"`
	DueAt          *string `json:"due_at,omitempty"`
	PointsPossible float64 `json:"points_possible"`
	QuestionCount  int     `json:"question_count"`
	Published      bool    `json:"published"`
}

// CalendarEvent is an entry on the user's Canvas calendar.
type CalendarEvent struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	StartAt     *string `json:"start_at,omitempty"`
	EndAt       *string `json:"end_at,omitempty"`
	ContextCode string  `json:"context_code,omitempty"`
}

// Conversation is a Canvas inbox thread.
type Conversation struct {
	ID           int      `json:"id"`
	Subject      string   `json:"subject"`
	LastMessage  string   `json:"last_message,omitempty"`
	MessageCount int      `json:"message_count"`
	WorkflowState string  `json:"workflow_state"`
	Participants []User   `json:"participants,omitempty"`
}

// File is a Canvas file record.
type File struct {
	ID          int    `json:"id"`
	DisplayName string `json:"display_name"`
	ContentType string `json:"content-type"`
	Size        int64  `json:"size"`
	URL         string `json:"url,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Page is a Canvas wiki page.
type Page struct {
	PageID    int    `json:"page_id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	Published bool   `json:"published"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// User is a Canvas user reference.
type User struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

// UserProfile is the authenticated user's own profile.
type UserProfile struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	PrimaryEmail string `json:"primary_email,omitempty"`
	LoginID      string `json:"login_id,omitempty"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	TimeZone     string `json:"time_zone,omitempty"`
}

// Enrollment links a user to a course, optionally carrying grades.
type Enrollment struct {
	ID       int     `json:"id"`
	CourseID int     `json:"course_id"`
	UserID   int     `json:"user_id"`
	Type     string  `json:"type"`
	State    string  `json:"enrollment_state"`
	Grades   *Grades `json:"grades,omitempty"`
	User     *User   `json:"user,omitempty"`
}

// Grades is the grade summary on an enrollment.
type Grades struct {
	CurrentScore *float64 `json:"current_score,omitempty"`
	CurrentGrade string   `json:"current_grade,omitempty"`
	FinalScore   *float64 `json:"final_score,omitempty"`
	FinalGrade   string   `json:"final_grade,omitempty"`
}

// HealthStatus reports whether the configured token and domain can reach
// the Canvas API.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	User      *User     `json:"user,omitempty"`
}

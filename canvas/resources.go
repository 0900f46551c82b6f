package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// get runs a GET and decodes the (possibly paginated) body into out.
func (c *Client) get(ctx context.Context, path string, params Params, out any) error {
	data, err := c.Request(ctx, "GET", path, params, nil)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("canvas: decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := c.Request(ctx, "POST", path, nil, body)
	if err != nil {
		return err
	}
	if data == nil || out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("canvas: decode %s response: %w", path, err)
	}
	return nil
}

// HealthCheck verifies the token and domain by fetching the user's own
// profile. It reports status rather than failing, so tool handlers can
// relay the outcome directly.
func (c *Client) HealthCheck(ctx context.Context) *HealthStatus {
	profile, err := c.GetUserProfile(ctx)
	if err != nil {
		c.logger.Warn("Canvas health check failed", "error", err)
		return &HealthStatus{Status: "error", Timestamp: time.Now().UTC()}
	}
	return &HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		User:      &User{ID: profile.ID, Name: profile.Name},
	}
}

// ListCourses returns the user's courses. Ended courses are excluded
// unless includeEnded is set.
func (c *Client) ListCourses(ctx context.Context, includeEnded bool) ([]Course, error) {
	params := Params{
		"include": []string{"total_students", "teachers", "term", "course_progress"},
	}
	if !includeEnded {
		params["state"] = []string{"available", "completed"}
	}
	var courses []Course
	err := c.get(ctx, "/courses", params, &courses)
	return courses, err
}

// GetCourse returns one course with its sections and syllabus.
func (c *Client) GetCourse(ctx context.Context, courseID int) (*Course, error) {
	var course Course
	err := c.get(ctx, fmt.Sprintf("/courses/%d", courseID), Params{
		"include": []string{"total_students", "teachers", "term", "sections", "syllabus_body"},
	}, &course)
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// ListAssignments returns the assignments of a course.
func (c *Client) ListAssignments(ctx context.Context, courseID int, includeSubmissions bool) ([]Assignment, error) {
	include := []string{"assignment_group", "rubric", "due_at"}
	if includeSubmissions {
		include = append(include, "submission")
	}
	var assignments []Assignment
	err := c.get(ctx, fmt.Sprintf("/courses/%d/assignments", courseID), Params{"include": include}, &assignments)
	return assignments, err
}

// GetAssignment returns one assignment.
func (c *Client) GetAssignment(ctx context.Context, courseID, assignmentID int, includeSubmission bool) (*Assignment, error) {
	include := []string{"assignment_group", "rubric"}
	if includeSubmission {
		include = append(include, "submission")
	}
	var assignment Assignment
	err := c.get(ctx, fmt.Sprintf("/courses/%d/assignments/%d", courseID, assignmentID), Params{"include": include}, &assignment)
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// GetSubmission returns the submission of userID ("self" for the
// authenticated user) for an assignment.
func (c *Client) GetSubmission(ctx context.Context, courseID, assignmentID int, userID string) (*Submission, error) {
	if userID == "" {
		userID = "self"
	}
	var submission Submission
	err := c.get(ctx, fmt.Sprintf("/courses/%d/assignments/%d/submissions/%s", courseID, assignmentID, userID), Params{
		"include": []string{"submission_comments", "rubric_assessment", "assignment"},
	}, &submission)
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

// ListModules returns a course's modules with their items.
func (c *Client) ListModules(ctx context.Context, courseID int) ([]Module, error) {
	var modules []Module
	err := c.get(ctx, fmt.Sprintf("/courses/%d/modules", courseID), Params{"include": []string{"items"}}, &modules)
	return modules, err
}

// ListModuleItems returns the items of one module.
func (c *Client) ListModuleItems(ctx context.Context, courseID, moduleID int) ([]ModuleItem, error) {
	var items []ModuleItem
	err := c.get(ctx, fmt.Sprintf("/courses/%d/modules/%d/items", courseID, moduleID), Params{
		"include": []string{"content_details"},
	}, &items)
	return items, err
}

// MarkModuleItemComplete marks a module item done for the current user.
func (c *Client) MarkModuleItemComplete(ctx context.Context, courseID, moduleID, itemID int) error {
	_, err := c.Request(ctx, "PUT", fmt.Sprintf("/courses/%d/modules/%d/items/%d/done", courseID, moduleID, itemID), nil, nil)
	return err
}

// ListAnnouncements returns announcement-typed discussion topics for a
// course.
func (c *Client) ListAnnouncements(ctx context.Context, courseID int) ([]DiscussionTopic, error) {
	var topics []DiscussionTopic
	err := c.get(ctx, fmt.Sprintf("/courses/%d/discussion_topics", courseID), Params{
		"type":    "announcement",
		"include": []string{"assignment"},
	}, &topics)
	return topics, err
}

// ListDiscussionTopics returns a course's discussion threads.
func (c *Client) ListDiscussionTopics(ctx context.Context, courseID int) ([]DiscussionTopic, error) {
	var topics []DiscussionTopic
	err := c.get(ctx, fmt.Sprintf("/courses/%d/discussion_topics", courseID), Params{
		"include": []string{"assignment"},
	}, &topics)
	return topics, err
}

// PostToDiscussion adds an entry to a discussion thread.
func (c *Client) PostToDiscussion(ctx context.Context, courseID, topicID int, message string) error {
	return c.post(ctx, fmt.Sprintf("/courses/%d/discussion_topics/%d/entries", courseID, topicID),
		map[string]string{"message": message}, nil)
}

// ListQuizzes returns a course's quizzes.
func (c *Client) ListQuizzes(ctx context.Context, courseID int) ([]Quiz, error) {
	var quizzes []Quiz
	err := c.get(ctx, fmt.Sprintf("/courses/%d/quizzes", courseID), nil, &quizzes)
	return quizzes, err
}

// GetQuiz returns one quiz.
func (c *Client) GetQuiz(ctx context.Context, courseID, quizID int) (*Quiz, error) {
	var quiz Quiz
	err := c.get(ctx, fmt.Sprintf("/courses/%d/quizzes/%d", courseID, quizID), nil, &quiz)
	if err != nil {
		return nil, err
	}
	return &quiz, nil
}

// ListCalendarEvents returns the user's calendar events, optionally
// bounded by ISO 8601 dates.
func (c *Client) ListCalendarEvents(ctx context.Context, startDate, endDate string) ([]CalendarEvent, error) {
	params := Params{"type": "event", "all_events": true}
	if startDate != "" {
		params["start_date"] = startDate
	}
	if endDate != "" {
		params["end_date"] = endDate
	}
	var events []CalendarEvent
	err := c.get(ctx, "/calendar_events", params, &events)
	return events, err
}

// ListConversations returns the user's inbox threads.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var conversations []Conversation
	err := c.get(ctx, "/conversations", nil, &conversations)
	return conversations, err
}

// CreateConversation starts a new inbox thread.
func (c *Client) CreateConversation(ctx context.Context, recipients []string, body, subject string) error {
	payload := map[string]any{"recipients": recipients, "body": body}
	if subject != "" {
		payload["subject"] = subject
	}
	return c.post(ctx, "/conversations", payload, nil)
}

// ListFiles returns the files of a course, or of a specific folder when
// folderID is non-zero.
func (c *Client) ListFiles(ctx context.Context, courseID, folderID int) ([]File, error) {
	path := fmt.Sprintf("/courses/%d/files", courseID)
	if folderID != 0 {
		path = fmt.Sprintf("/folders/%d/files", folderID)
	}
	var files []File
	err := c.get(ctx, path, nil, &files)
	return files, err
}

// ListPages returns a course's wiki pages.
func (c *Client) ListPages(ctx context.Context, courseID int) ([]Page, error) {
	var pages []Page
	err := c.get(ctx, fmt.Sprintf("/courses/%d/pages", courseID), nil, &pages)
	return pages, err
}

// GetPage returns one wiki page by its URL slug.
func (c *Client) GetPage(ctx context.Context, courseID int, pageURL string) (*Page, error) {
	var page Page
	err := c.get(ctx, fmt.Sprintf("/courses/%d/pages/%s", courseID, pageURL), nil, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// GetUserProfile returns the authenticated user's profile.
func (c *Client) GetUserProfile(ctx context.Context) (*UserProfile, error) {
	var profile UserProfile
	err := c.get(ctx, "/users/self/profile", nil, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetCourseGrades returns the enrollments of a course with grade
// summaries.
func (c *Client) GetCourseGrades(ctx context.Context, courseID int) ([]Enrollment, error) {
	var enrollments []Enrollment
	err := c.get(ctx, fmt.Sprintf("/courses/%d/enrollments", courseID), Params{
		"include": []string{"grades", "observed_users"},
	}, &enrollments)
	return enrollments, err
}

// GetDashboardCards returns the cards shown on the user's dashboard.
func (c *Client) GetDashboardCards(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, "GET", "/dashboard/dashboard_cards", nil, nil)
}

// GetUpcomingEvents returns the user's upcoming calendar items, which
// include assignment due dates.
func (c *Client) GetUpcomingEvents(ctx context.Context, limit int) (json.RawMessage, error) {
	params := Params{}
	if limit > 0 {
		params["limit"] = limit
	}
	return c.Request(ctx, "GET", "/users/self/upcoming_events", params, nil)
}

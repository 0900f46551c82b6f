package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/edutools/mcp-canvas/vault"
)

func (t *Toolbox) handleSetupCredentials(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	apiToken, err := request.RequireString("api_token")
	if err != nil {
		return mcp.NewToolResultError("api_token argument is required"), nil
	}
	domain, err := request.RequireString("domain")
	if err != nil {
		return mcp.NewToolResultError("domain argument is required"), nil
	}

	userID := t.identity(ctx)
	if userID == "" {
		return mcp.NewToolResultError("Unable to determine user identity"), nil
	}

	// Verify before storing so a typo'd token is rejected immediately.
	client, err := t.newClient(apiToken, domain)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid credentials: %v", err)), nil
	}
	health := client.HealthCheck(ctx)
	if health.Status != "ok" {
		return mcp.NewToolResultError("Could not reach Canvas with the provided token and domain"), nil
	}

	if err := t.vault.Put(ctx, userID, vault.Credentials{APIToken: apiToken, Domain: domain}); err != nil {
		t.logger.Error("Failed to store credentials", "error", err)
		return mcp.NewToolResultError("Failed to store credentials"), nil
	}
	t.auditor.LogCredentialsStored(userID, "", "", domain)

	return mcp.NewToolResultText(fmt.Sprintf("Canvas credentials stored for %s (verified as %s)", domain, health.User.Name)), nil
}

func (t *Toolbox) handleDeleteCredentials(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := t.identity(ctx)
	if userID == "" {
		return mcp.NewToolResultError("Unable to determine user identity"), nil
	}
	if err := t.vault.Delete(ctx, userID); err != nil {
		t.logger.Error("Failed to delete credentials", "error", err)
		return mcp.NewToolResultError("Failed to delete credentials"), nil
	}
	t.auditor.LogCredentialsDeleted(userID, "")
	return mcp.NewToolResultText("Canvas credentials deleted"), nil
}

func (t *Toolbox) handleHealthCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	return textResult(client.HealthCheck(ctx))
}

func (t *Toolbox) handleListCourses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courses, err := client.ListCourses(ctx, request.GetBool("include_ended", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(courses)
}

func (t *Toolbox) handleGetCourse(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	course, err := client.GetCourse(ctx, courseID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(course)
}

func (t *Toolbox) handleListAssignments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	assignments, err := client.ListAssignments(ctx, courseID, request.GetBool("include_submissions", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(assignments)
}

func (t *Toolbox) handleGetAssignment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	assignmentID, err := request.RequireInt("assignment_id")
	if err != nil {
		return mcp.NewToolResultError("assignment_id argument is required"), nil
	}
	assignment, err := client.GetAssignment(ctx, courseID, assignmentID, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(assignment)
}

func (t *Toolbox) handleGetSubmission(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	assignmentID, err := request.RequireInt("assignment_id")
	if err != nil {
		return mcp.NewToolResultError("assignment_id argument is required"), nil
	}
	submission, err := client.GetSubmission(ctx, courseID, assignmentID, request.GetString("user_id", "self"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(submission)
}

func (t *Toolbox) handleListModules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	modules, err := client.ListModules(ctx, courseID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(modules)
}

func (t *Toolbox) handleListModuleItems(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	moduleID, err := request.RequireInt("module_id")
	if err != nil {
		return mcp.NewToolResultError("module_id argument is required"), nil
	}
	items, err := client.ListModuleItems(ctx, courseID, moduleID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(items)
}

func (t *Toolbox) handleMarkModuleItemComplete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	moduleID, err := request.RequireInt("module_id")
	if err != nil {
		return mcp.NewToolResultError("module_id argument is required"), nil
	}
	itemID, err := request.RequireInt("item_id")
	if err != nil {
		return mcp.NewToolResultError("item_id argument is required"), nil
	}
	if err := client.MarkModuleItemComplete(ctx, courseID, moduleID, itemID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Module item %d marked complete", itemID)), nil
}

func (t *Toolbox) handleListAnnouncements(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	announcements, err := client.ListAnnouncements(ctx, courseID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(announcements)
}

func (t *Toolbox) handleListDiscussionTopics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	topics, err := client.ListDiscussionTopics(ctx, courseID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(topics)
}

func (t *Toolbox) handlePostToDiscussion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	topicID, err := request.RequireInt("topic_id")
	if err != nil {
		return mcp.NewToolResultError("topic_id argument is required"), nil
	}
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("message argument is required"), nil
	}
	if err := client.PostToDiscussion(ctx, courseID, topicID, message); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Posted to discussion"), nil
}

func (t *Toolbox) handleListQuizzes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	quizzes, err := client.ListQuizzes(ctx, courseID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(quizzes)
}

func (t *Toolbox) handleGetQuiz(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	quizID, err := request.RequireInt("quiz_id")
	if err != nil {
		return mcp.NewToolResultError("quiz_id argument is required"), nil
	}
	quiz, err := client.GetQuiz(ctx, courseID, quizID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(quiz)
}

func (t *Toolbox) handleListCalendarEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	events, err := client.ListCalendarEvents(ctx, request.GetString("start_date", ""), request.GetString("end_date", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(events)
}

func (t *Toolbox) handleListConversations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	conversations, err := client.ListConversations(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(conversations)
}

func (t *Toolbox) handleCreateConversation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	recipients, err := request.RequireStringSlice("recipients")
	if err != nil || len(recipients) == 0 {
		return mcp.NewToolResultError("recipients argument is required"), nil
	}
	body, err := request.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError("body argument is required"), nil
	}
	if err := client.CreateConversation(ctx, recipients, body, request.GetString("subject", "")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Conversation sent to %d recipient(s)", len(recipients))), nil
}

func (t *Toolbox) handleListFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	files, err := client.ListFiles(ctx, courseID, request.GetInt("folder_id", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(files)
}

func (t *Toolbox) handleListPages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	pages, err := client.ListPages(ctx, courseID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(pages)
}

func (t *Toolbox) handleGetPage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	pageURL, err := request.RequireString("page_url")
	if err != nil {
		return mcp.NewToolResultError("page_url argument is required"), nil
	}
	page, err := client.GetPage(ctx, courseID, pageURL)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(page)
}

func (t *Toolbox) handleGetUserProfile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	profile, err := client.GetUserProfile(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(profile)
}

func (t *Toolbox) handleGetCourseGrades(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	courseID, err := request.RequireInt("course_id")
	if err != nil {
		return mcp.NewToolResultError("course_id argument is required"), nil
	}
	enrollments, err := client.GetCourseGrades(ctx, courseID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(enrollments)
}

func (t *Toolbox) handleGetUpcomingEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	data, err := client.GetUpcomingEvents(ctx, request.GetInt("limit", 10))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return rawResult(data)
}

func (t *Toolbox) handleGetDashboardCards(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, errResult, err := t.client(ctx)
	if err != nil || errResult != nil {
		return errResult, err
	}
	data, err := client.GetDashboardCards(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return rawResult(data)
}

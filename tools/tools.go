// Package tools exposes the Canvas API surface as MCP tools. Every tool
// resolves the caller's identity, loads their credentials from the vault,
// and runs the request through the resilient Canvas client.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/edutools/mcp-canvas/canvas"
	"github.com/edutools/mcp-canvas/security"
	"github.com/edutools/mcp-canvas/vault"
)

// credentialsMissingMessage is returned by any tool invoked before the
// user has stored credentials.
const credentialsMissingMessage = "No Canvas credentials found. Run canvas_setup_credentials with your API token and Canvas domain first."

// IdentityFunc resolves the stable user identity for a tool invocation.
type IdentityFunc func(ctx context.Context) string

// Config configures a Toolbox.
type Config struct {
	// Vault holds the per-user Canvas credentials (required).
	Vault *vault.Vault

	// Identity resolves the calling user (required). Single-user stdio
	// deployments pass a constant.
	Identity IdentityFunc

	// Logger for structured logging (optional).
	Logger *slog.Logger

	// Auditor records credential lifecycle events (optional).
	Auditor *security.Auditor

	// ClientOptions are applied to every Canvas client the toolbox
	// constructs.
	ClientOptions []canvas.Option
}

// Toolbox registers and serves the Canvas MCP tools.
type Toolbox struct {
	vault         *vault.Vault
	identity      IdentityFunc
	logger        *slog.Logger
	auditor       *security.Auditor
	clientOptions []canvas.Option

	// newClient is swappable in tests.
	newClient func(token, domain string) (*canvas.Client, error)
}

// New creates a Toolbox from cfg.
func New(cfg Config) (*Toolbox, error) {
	if cfg.Vault == nil {
		return nil, fmt.Errorf("tools: vault is required")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("tools: identity resolver is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Toolbox{
		vault:         cfg.Vault,
		identity:      cfg.Identity,
		logger:        logger,
		auditor:       cfg.Auditor,
		clientOptions: cfg.ClientOptions,
	}
	t.newClient = func(token, domain string) (*canvas.Client, error) {
		return canvas.NewClient(token, domain, t.clientOptions...)
	}
	return t, nil
}

// Register adds every Canvas tool to s.
func (t *Toolbox) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("canvas_setup_credentials",
		mcp.WithDescription("Store your Canvas API token and domain for subsequent tool calls"),
		mcp.WithString("api_token", mcp.Required(), mcp.Description("Canvas API access token")),
		mcp.WithString("domain", mcp.Required(), mcp.Description("Canvas domain, e.g. school.instructure.com")),
	), t.handleSetupCredentials)

	s.AddTool(mcp.NewTool("canvas_delete_credentials",
		mcp.WithDescription("Remove your stored Canvas credentials"),
	), t.handleDeleteCredentials)

	s.AddTool(mcp.NewTool("canvas_health_check",
		mcp.WithDescription("Verify that the stored Canvas credentials work"),
	), t.handleHealthCheck)

	s.AddTool(mcp.NewTool("canvas_list_courses",
		mcp.WithDescription("List the user's Canvas courses"),
		mcp.WithBoolean("include_ended", mcp.Description("Include concluded courses")),
	), t.handleListCourses)

	s.AddTool(mcp.NewTool("canvas_get_course",
		mcp.WithDescription("Get one course with sections and syllabus"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
	), t.handleGetCourse)

	s.AddTool(mcp.NewTool("canvas_list_assignments",
		mcp.WithDescription("List the assignments of a course"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
		mcp.WithBoolean("include_submissions", mcp.Description("Include the user's submission per assignment")),
	), t.handleListAssignments)

	s.AddTool(mcp.NewTool("canvas_get_assignment",
		mcp.WithDescription("Get one assignment"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
		mcp.WithNumber("assignment_id", mcp.Required(), mcp.Description("Canvas assignment ID")),
	), t.handleGetAssignment)

	s.AddTool(mcp.NewTool("canvas_get_submission",
		mcp.WithDescription("Get a submission for an assignment"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
		mcp.WithNumber("assignment_id", mcp.Required(), mcp.Description("Canvas assignment ID")),
		mcp.WithString("user_id", mcp.Description("Canvas user ID, defaults to self")),
	), t.handleGetSubmission)

	s.AddTool(mcp.NewTool("canvas_list_modules",
		mcp.WithDescription("List the modules of a course with their items"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
	), t.handleListModules)

	s.AddTool(mcp.NewTool("canvas_list_module_items",
		mcp.WithDescription("List the items of one module"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
		mcp.WithNumber("module_id", mcp.Required(), mcp.Description("Canvas module ID")),
	), t.handleListModuleItems)

	s.AddTool(mcp.NewTool("canvas_mark_module_item_complete",
		mcp.WithDescription("Mark a module item as done for the current user"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
		mcp.WithNumber("module_id", mcp.Required(), mcp.Description("Canvas module ID")),
		mcp.WithNumber("item_id", mcp.Required(), mcp.Description("Canvas module item ID")),
	), t.handleMarkModuleItemComplete)

	s.AddTool(mcp.NewTool("canvas_list_announcements",
		mcp.WithDescription("List the announcements of a course"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
	), t.handleListAnnouncements)

	s.AddTool(mcp.NewTool("canvas_list_discussion_topics",
		mcp.WithDescription("List the discussion threads of a course"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
	), t.handleListDiscussionTopics)

	s.AddTool(mcp.NewTool("canvas_post_to_discussion",
		mcp.WithDescription("Post an entry to a discussion thread"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
		mcp.WithNumber("topic_id", mcp.Required(), mcp.Description("Canvas discussion topic ID")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Entry body")),
	), t.handlePostToDiscussion)

	s.AddTool(mcp.NewTool("canvas_list_quizzes",
		mcp.WithDescription("List the quizzes of a course"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
	), t.handleListQuizzes)

	s.AddTool(mcp.NewTool("canvas_get_quiz",
		mcp.WithDescription("Get one quiz"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
		mcp.WithNumber("quiz_id", mcp.Required(), mcp.Description("Canvas quiz ID")),
	), t.handleGetQuiz)

	s.AddTool(mcp.NewTool("canvas_list_calendar_events",
		mcp.WithDescription("List the user's calendar events"),
		mcp.WithString("start_date", mcp.Description("ISO 8601 start date")),
		mcp.WithString("end_date", mcp.Description("ISO 8601 end date")),
	), t.handleListCalendarEvents)

	s.AddTool(mcp.NewTool("canvas_list_conversations",
		mcp.WithDescription("List the user's inbox conversations"),
	), t.handleListConversations)

	s.AddTool(mcp.NewTool("canvas_create_conversation",
		mcp.WithDescription("Start a new inbox conversation"),
		mcp.WithArray("recipients", mcp.Required(),
			mcp.Description("Recipient user IDs or email addresses"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("body", mcp.Required(), mcp.Description("Message body")),
		mcp.WithString("subject", mcp.Description("Conversation subject")),
	), t.handleCreateConversation)

	s.AddTool(mcp.NewTool("canvas_list_files",
		mcp.WithDescription("List the files of a course or folder"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
		mcp.WithNumber("folder_id", mcp.Description("Folder ID to list instead of the course root")),
	), t.handleListFiles)

	s.AddTool(mcp.NewTool("canvas_list_pages",
		mcp.WithDescription("List the wiki pages of a course"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
	), t.handleListPages)

	s.AddTool(mcp.NewTool("canvas_get_page",
		mcp.WithDescription("Get one wiki page with its body"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
		mcp.WithString("page_url", mcp.Required(), mcp.Description("URL slug of the page")),
	), t.handleGetPage)

	s.AddTool(mcp.NewTool("canvas_get_user_profile",
		mcp.WithDescription("Get the authenticated user's Canvas profile"),
	), t.handleGetUserProfile)

	s.AddTool(mcp.NewTool("canvas_get_course_grades",
		mcp.WithDescription("Get the grade summary for a course's enrollments"),
		mcp.WithNumber("course_id", mcp.Required(), mcp.Description("Canvas course ID")),
	), t.handleGetCourseGrades)

	s.AddTool(mcp.NewTool("canvas_get_upcoming_events",
		mcp.WithDescription("Get the user's upcoming calendar items and due dates"),
		mcp.WithNumber("limit", mcp.Description("Maximum number of items, default 10")),
	), t.handleGetUpcomingEvents)

	s.AddTool(mcp.NewTool("canvas_get_dashboard_cards",
		mcp.WithDescription("Get the cards shown on the user's dashboard"),
	), t.handleGetDashboardCards)
}

// client resolves the caller's credentials and builds a Canvas client.
// The second return is a ready tool error result when the user has no
// usable credentials.
func (t *Toolbox) client(ctx context.Context) (*canvas.Client, *mcp.CallToolResult, error) {
	userID := t.identity(ctx)
	if userID == "" {
		return nil, mcp.NewToolResultError("Unable to determine user identity"), nil
	}

	creds, err := t.vault.Get(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil {
		return nil, mcp.NewToolResultError(credentialsMissingMessage), nil
	}

	client, err := t.newClient(creds.APIToken, creds.Domain)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("Invalid stored credentials: %v", err)), nil
	}
	return client, nil, nil
}

// textResult marshals v as indented JSON into a tool result.
func textResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// rawResult passes the Canvas JSON through untouched.
func rawResult(data json.RawMessage) (*mcp.CallToolResult, error) {
	if data == nil {
		return mcp.NewToolResultText("{}"), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

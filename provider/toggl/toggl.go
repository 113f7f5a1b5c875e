// Package toggl reads time entries from Toggl Track (API v9) and tags
// them as billed.
package toggl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/provider/rest"
)

const (
	DefaultBaseURL = "https://api.track.toggl.com/api/v9"

	// ids per bulk update request
	patchBatchSize = 100
)

// Config configures the client. Workspace 0 means the user's default
// workspace.
type Config struct {
	BaseURL   string
	Token     string
	Workspace int64
}

type Client struct {
	api *rest.Client

	mu        sync.Mutex
	workspace int64
}

var _ billing.EntrySource = (*Client)(nil)

func New(cfg Config, httpClient *http.Client) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		api:       rest.New(base, httpClient, rest.WithBasicAuth(cfg.Token, "api_token")),
		workspace: cfg.Workspace,
	}
}

// timeEntry is the v9 representation with meta=true.
type timeEntry struct {
	ID          int64      `json:"id"`
	WorkspaceID int64      `json:"workspace_id"`
	ProjectID   *int64     `json:"project_id"`
	ProjectName string     `json:"project_name"`
	Start       time.Time  `json:"start"`
	Stop        *time.Time `json:"stop"`
	Duration    int64      `json:"duration"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
}

type me struct {
	DefaultWorkspaceID int64 `json:"default_workspace_id"`
}

type patchOp struct {
	Op    string   `json:"op"`
	Path  string   `json:"path"`
	Value []string `json:"value"`
}

// TimeEntries returns all entries that started inside r. Entries are
// keyed to projects by project name. Running entries come back with a
// zero Stop and a negative duration; the filter drops them.
func (c *Client) TimeEntries(ctx context.Context, r billing.DateRange) ([]billing.TimeEntry, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	q := url.Values{
		"start_date": {billing.StartOfDay(r.From).Format(time.RFC3339)},
		// end_date is exclusive
		"end_date": {billing.StartOfDay(r.To).AddDate(0, 0, 1).Format(time.RFC3339)},
		"meta":     {"true"},
	}

	var raw []timeEntry
	if err := c.api.Do(ctx, http.MethodGet, "/me/time_entries", q, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch time entries %s: %w", r, err)
	}

	out := make([]billing.TimeEntry, 0, len(raw))
	for _, e := range raw {
		entry := billing.TimeEntry{
			ID:              billing.EntryID(strconv.FormatInt(e.ID, 10)),
			ProjectRef:      billing.ProjectRef(e.ProjectName),
			Start:           e.Start,
			DurationSeconds: e.Duration,
			Description:     e.Description,
			Tags:            e.Tags,
		}
		if e.Stop != nil {
			entry.Stop = *e.Stop
		}
		out = append(out, entry)
	}
	return out, nil
}

// MarkBilled adds the billed tag to the given entries.
func (c *Client) MarkBilled(ctx context.Context, ids []billing.EntryID) error {
	if len(ids) == 0 {
		return nil
	}
	wid, err := c.workspaceID(ctx)
	if err != nil {
		return err
	}

	ops := []patchOp{{Op: "add", Path: "/tags", Value: []string{billing.LabelBilled}}}
	for start := 0; start < len(ids); start += patchBatchSize {
		end := min(start+patchBatchSize, len(ids))
		parts := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			parts = append(parts, string(id))
		}
		path := fmt.Sprintf("/workspaces/%d/time_entries/%s", wid, strings.Join(parts, ","))
		if err := c.api.Do(ctx, http.MethodPatch, path, nil, ops, nil); err != nil {
			return fmt.Errorf("tag %d entries as billed: %w", end-start, err)
		}
	}
	return nil
}

func (c *Client) workspaceID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.workspace != 0 {
		return c.workspace, nil
	}
	var m me
	if err := c.api.Do(ctx, http.MethodGet, "/me", nil, nil, &m); err != nil {
		return 0, fmt.Errorf("resolve default workspace: %w", err)
	}
	c.workspace = m.DefaultWorkspaceID
	return c.workspace, nil
}

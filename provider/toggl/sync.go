package toggl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/mirror"
)

// projects per listing page, the v9 maximum
const projectPageSize = 200

var _ mirror.TrackerTarget = (*Client)(nil)

// client is a Toggl client. Notes carries the directory's customer ref.
type client struct {
	ID    int64  `json:"id,omitempty"`
	Name  string `json:"name"`
	Notes string `json:"notes"`
	WID   int64  `json:"wid,omitempty"`
}

type project struct {
	ID        int64  `json:"id,omitempty"`
	Name      string `json:"name"`
	ClientID  *int64 `json:"client_id"`
	IsPrivate bool   `json:"is_private"`
	Active    bool   `json:"active"`
}

func (c *Client) listClients(ctx context.Context, wid int64) ([]client, error) {
	var list []client
	if err := c.api.Do(ctx, http.MethodGet, fmt.Sprintf("/workspaces/%d/clients", wid), nil, nil, &list); err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return list, nil
}

func (c *Client) listProjects(ctx context.Context, wid int64) ([]project, error) {
	var all []project
	for page := 1; ; page++ {
		q := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(projectPageSize)}}
		var list []project
		if err := c.api.Do(ctx, http.MethodGet, fmt.Sprintf("/workspaces/%d/projects", wid), q, nil, &list); err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		all = append(all, list...)
		if len(list) < projectPageSize {
			return all, nil
		}
	}
}

// SyncClients keeps one Toggl client per customer. A client belongs to a
// customer when its notes hold the customer ref or, failing that, when
// it has the customer's name.
func (c *Client) SyncClients(ctx context.Context, customers []billing.Customer) (mirror.Changes, error) {
	wid, err := c.workspaceID(ctx)
	if err != nil {
		return mirror.Changes{}, err
	}
	existing, err := c.listClients(ctx, wid)
	if err != nil {
		return mirror.Changes{}, err
	}

	var changes mirror.Changes
	for _, cust := range customers {
		want := client{Name: cust.Name, Notes: string(cust.Ref), WID: wid}
		have, ok := findClient(existing, cust)
		switch {
		case !ok:
			if err := c.api.Do(ctx, http.MethodPost, fmt.Sprintf("/workspaces/%d/clients", wid), nil, want, nil); err != nil {
				return changes, fmt.Errorf("create client %s: %w", cust.Name, err)
			}
			changes.Created++
		case have.Name == want.Name && have.Notes == want.Notes:
			changes.Unchanged++
		default:
			path := fmt.Sprintf("/workspaces/%d/clients/%d", wid, have.ID)
			if err := c.api.Do(ctx, http.MethodPut, path, nil, want, nil); err != nil {
				return changes, fmt.Errorf("update client %s: %w", cust.Name, err)
			}
			changes.Updated++
		}
	}
	return changes, nil
}

func findClient(clients []client, cust billing.Customer) (client, bool) {
	for _, cl := range clients {
		if cl.Notes == string(cust.Ref) {
			return cl, true
		}
	}
	for _, cl := range clients {
		if cl.Name == cust.Name {
			return cl, true
		}
	}
	return client{}, false
}

// SyncProjects keeps one private Toggl project per directory project,
// named by its ref and assigned to its customer's client. Clients must
// be synced first.
func (c *Client) SyncProjects(ctx context.Context, projects []billing.Project) (mirror.Changes, error) {
	wid, err := c.workspaceID(ctx)
	if err != nil {
		return mirror.Changes{}, err
	}
	clients, err := c.listClients(ctx, wid)
	if err != nil {
		return mirror.Changes{}, err
	}
	clientByRef := make(map[string]int64, len(clients))
	for _, cl := range clients {
		if cl.Notes != "" {
			clientByRef[cl.Notes] = cl.ID
		}
	}
	existing, err := c.listProjects(ctx, wid)
	if err != nil {
		return mirror.Changes{}, err
	}
	// project names are unique per workspace
	byName := make(map[string]project, len(existing))
	for _, p := range existing {
		byName[p.Name] = p
	}

	var changes mirror.Changes
	for _, p := range projects {
		clientID, ok := clientByRef[string(p.CustomerRef)]
		if !ok {
			return changes, fmt.Errorf("project %s: no client for customer %q", p.Ref, p.CustomerRef)
		}
		want := project{Name: string(p.Ref), ClientID: &clientID, IsPrivate: true, Active: true}
		have, ok := byName[want.Name]
		switch {
		case !ok:
			if err := c.api.Do(ctx, http.MethodPost, fmt.Sprintf("/workspaces/%d/projects", wid), nil, want, nil); err != nil {
				return changes, fmt.Errorf("create project %s: %w", p.Ref, err)
			}
			changes.Created++
		case have.ClientID != nil && *have.ClientID == clientID && have.IsPrivate:
			changes.Unchanged++
		default:
			path := fmt.Sprintf("/workspaces/%d/projects/%d", wid, have.ID)
			if err := c.api.Do(ctx, http.MethodPut, path, nil, want, nil); err != nil {
				return changes, fmt.Errorf("update project %s: %w", p.Ref, err)
			}
			changes.Updated++
		}
	}
	return changes, nil
}

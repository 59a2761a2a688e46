package api

import (
	"context"
	"fmt"
	"net/http"
)

func tablePath(id int64, suffix string) string {
	return fmt.Sprintf("/api/tables/%d%s", id, suffix)
}

func tournamentPath(id int64, suffix string) string {
	return fmt.Sprintf("/api/tournaments/%d%s", id, suffix)
}

func (c *Client) Tables(ctx context.Context) ([]TableSummary, error) {
	var out []TableSummary
	err := c.get(ctx, "/api/tables", &out)
	return out, err
}

func (c *Client) Table(ctx context.Context, id int64) (TableDetail, error) {
	var out TableDetail
	err := c.get(ctx, tablePath(id, ""), &out)
	return out, err
}

// SittingTables lists the tables the account is currently seated at.
func (c *Client) SittingTables(ctx context.Context) ([]TableSummary, error) {
	var out []TableSummary
	err := c.get(ctx, "/api/account/my/tables", &out)
	return out, err
}

// Sit queues the player for a seat with the given buy-in.
func (c *Client) Sit(ctx context.Context, tableID int64, seat int, amount int64) error {
	return c.do(ctx, http.MethodPost, tablePath(tableID, fmt.Sprintf("/seats/%d/queue", seat)), sitRequest{Amount: amount}, nil)
}

func (c *Client) Standup(ctx context.Context, tableID int64) error {
	return c.do(ctx, http.MethodDelete, tablePath(tableID, "/seats/me"), nil, nil)
}

func (c *Client) Fold(ctx context.Context, tableID int64) error {
	return c.do(ctx, http.MethodPost, tablePath(tableID, "/game/current/actions/fold"), nil, nil)
}

func (c *Client) CheckOrCall(ctx context.Context, tableID int64) error {
	return c.do(ctx, http.MethodPost, tablePath(tableID, "/game/current/actions/check-call"), nil, nil)
}

func (c *Client) BetOrRaise(ctx context.Context, tableID int64, amount int64) error {
	return c.do(ctx, http.MethodPost, tablePath(tableID, "/game/current/actions/bet-raise"), betRequest{Amount: amount}, nil)
}

func (c *Client) SitOut(ctx context.Context, tableID int64) (bool, error) {
	var out bool
	err := c.get(ctx, tablePath(tableID, "/status/sit-out"), &out)
	return out, err
}

func (c *Client) SetSitOut(ctx context.Context, tableID int64, sitOut bool) error {
	method := http.MethodDelete
	if sitOut {
		method = http.MethodPut
	}
	return c.do(ctx, method, tablePath(tableID, "/status/sit-out"), nil, nil)
}

func (c *Client) HoleCardsVisible(ctx context.Context, tableID int64) (bool, error) {
	var out bool
	err := c.get(ctx, tablePath(tableID, "/status/open-cards"), &out)
	return out, err
}

func (c *Client) SetHoleCardsVisible(ctx context.Context, tableID int64, visible bool) error {
	method := http.MethodDelete
	if visible {
		method = http.MethodPut
	}
	return c.do(ctx, method, tablePath(tableID, "/status/open-cards"), nil, nil)
}

func (c *Client) Tournaments(ctx context.Context) ([]TournamentSummary, error) {
	var out []TournamentSummary
	err := c.get(ctx, "/api/tournaments", &out)
	return out, err
}

func (c *Client) Tournament(ctx context.Context, id int64) (TournamentDetail, error) {
	var out TournamentDetail
	err := c.get(ctx, tournamentPath(id, ""), &out)
	return out, err
}

// MyTournaments lists the tournaments the account is registered in.
func (c *Client) MyTournaments(ctx context.Context) ([]TournamentSummary, error) {
	var out []TournamentSummary
	err := c.get(ctx, "/api/account/my/tournaments", &out)
	return out, err
}

func (c *Client) Register(ctx context.Context, tournamentID int64) error {
	return c.do(ctx, http.MethodPut, tournamentPath(tournamentID, "/registration"), nil, nil)
}

func (c *Client) CancelRegistration(ctx context.Context, tournamentID int64) error {
	return c.do(ctx, http.MethodDelete, tournamentPath(tournamentID, "/registration"), nil, nil)
}

func (c *Client) Rebuy(ctx context.Context, tournamentID int64) error {
	return c.do(ctx, http.MethodPut, tournamentPath(tournamentID, "/rebuys"), nil, nil)
}

func (c *Client) Addon(ctx context.Context, tournamentID int64) error {
	return c.do(ctx, http.MethodPut, tournamentPath(tournamentID, "/addons"), nil, nil)
}

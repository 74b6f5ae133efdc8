// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fieldsync/go-fieldsync/fieldsync"
)

// SyncOnce brings the replica up to date with the server: a cheap version
// check first, then delta pages applied transactionally until the server
// reports upToDate.
func (c *Client) SyncOnce(ctx context.Context) error {
	local, err := c.LastVersion(ctx)
	if err != nil {
		return err
	}

	var version fieldsync.VersionResponse
	if err := c.getJSON(ctx, "/api/cache/version", nil, &version); err != nil {
		return fmt.Errorf("failed to fetch server version: %w", err)
	}
	if local >= version.Version {
		c.logger.Debug("Replica up to date", "agent_id", c.AgentID, "version", local)
		return nil
	}

	for {
		query := url.Values{
			"clientVersion": {strconv.FormatInt(local, 10)},
			"types":         {strings.Join(c.config.Types, ",")},
		}
		var delta fieldsync.DeltaResponse
		if err := c.getJSON(ctx, "/api/cache/delta", query, &delta); err != nil {
			return fmt.Errorf("failed to fetch delta after %d: %w", local, err)
		}
		if delta.UpToDate {
			return nil
		}

		// A truncated page only covers up to its last entry; otherwise the
		// page covers everything through the server version.
		newVersion := delta.ServerVersion
		if delta.Metadata.Truncated && len(delta.Changes) > 0 {
			newVersion = delta.Changes[len(delta.Changes)-1].SyncVersion
		}

		if err := c.applyChanges(ctx, delta.Changes, newVersion); err != nil {
			return err
		}
		c.logger.Info("Applied delta page",
			"agent_id", c.AgentID, "from", local, "to", newVersion, "changes", len(delta.Changes))

		if delta.HasCritical && c.OnCritical != nil {
			var critical []fieldsync.ChangeLogEntry
			for _, change := range delta.Changes {
				if change.IsCritical {
					critical = append(critical, change)
				}
			}
			c.OnCritical(critical)
		}

		local = newVersion
		if !delta.Metadata.Truncated {
			return nil
		}
	}
}

// Run polls the server on the given interval until ctx is cancelled,
// backing off exponentially on errors.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	backoff := c.config.BackoffMin
	for {
		err := c.SyncOnce(ctx)
		wait := interval
		if err != nil {
			c.logger.Warn("Sync failed", "agent_id", c.AgentID, "error", err)
			wait = backoff
			backoff *= 2
			if backoff > c.config.BackoffMax {
				backoff = c.config.BackoffMax
			}
		} else {
			backoff = c.config.BackoffMin
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// getJSON performs an authenticated GET against the server API.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	token, err := c.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Package sigupdate implements the signature/category database update
// client (A7): a bounded-timeout HTTP fetch of the JSON signature payload
// described in pkg/category, optionally followed by a directory rescan,
// with the result swapped atomically into a category.Store. It is
// grounded on the httpc request pattern used throughout the teacher's own
// API clients (pkg/api/goprobe/client/status.go): NewWithClient, chained
// Timeout/RetryBackOff, ParseJSON, RunWithContext.
package sigupdate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fako1024/httpc"

	"github.com/sentrytap/sentrytap/pkg/category"
)

const (
	fetchTimeout  = 60 * time.Second
	retryInterval = 20 * time.Second
)

// Client polls a signature API endpoint and/or rescans a category
// directory, swapping the combined result into a category.Store.
type Client struct {
	http *http.Client

	apiURL      string
	categoryDir string

	retryIntervals httpc.Intervals
}

// New constructs a Client. Either apiURL or categoryDir (or both) may be
// empty; Refresh is a no-op error if both are.
func New(apiURL, categoryDir string) *Client {
	return &Client{
		http:           &http.Client{Timeout: fetchTimeout},
		apiURL:         apiURL,
		categoryDir:    categoryDir,
		retryIntervals: httpc.Intervals{retryInterval},
	}
}

// Refresh fetches the latest signature JSON (if apiURL is set), rescans
// categoryDir (if set) using the fetched application/protocol tag
// indexes to resolve category tags, and swaps both into store.
func (c *Client) Refresh(ctx context.Context, store *category.Store) error {
	if c.apiURL == "" && c.categoryDir == "" {
		return fmt.Errorf("sigupdate: neither signature_api_url nor category_db_dir is configured")
	}

	var apps, protos *category.Index
	if c.apiURL != "" {
		var err error
		apps, protos, err = c.fetchJSON(ctx)
		if err != nil {
			return fmt.Errorf("sigupdate: signature fetch failed: %w", err)
		}
	}

	var dni *category.DomainNetworkIndex
	if c.categoryDir != "" {
		loaded, err := category.LoadDirectory(c.categoryDir, func(tag string) (uint32, bool) {
			if apps != nil {
				if id, ok := apps.CategoryID(tag); ok {
					return id, true
				}
			}
			if protos != nil {
				return protos.CategoryID(tag)
			}
			return 0, false
		})
		if err != nil {
			return fmt.Errorf("sigupdate: category directory load failed: %w", err)
		}
		dni = loaded
	}

	store.Swap(apps, protos, dni)
	return nil
}

func (c *Client) fetchJSON(ctx context.Context) (apps, protos *category.Index, err error) {
	var raw json.RawMessage
	req := httpc.NewWithClient(http.MethodGet, c.apiURL, c.http).
		Timeout(fetchTimeout).
		RetryBackOff(c.retryIntervals).
		ParseJSON(&raw)

	if err := req.RunWithContext(ctx); err != nil {
		return nil, nil, err
	}
	return category.LoadJSON(bytes.NewReader(raw))
}

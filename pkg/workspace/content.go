package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// maxContentDepth bounds the nested block walk so a pathological page
// cannot turn one record into hundreds of requests.
const maxContentDepth = 3

// GetChildContent fetches the body content of a record and flattens it to
// plain text, one line per block. Nested blocks are walked up to
// maxContentDepth levels deep.
func (c *Client) GetChildContent(ctx context.Context, recordID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "workspace.Client.GetChildContent")
	defer span.End()

	lines, err := c.fetchBlocks(ctx, recordID, 0)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) fetchBlocks(ctx context.Context, parentID string, depth int) ([]string, error) {
	if depth >= maxContentDepth {
		return nil, nil
	}

	var lines []string
	cursor := ""
	for {
		url := fmt.Sprintf("%s/v1/records/%s/children", c.cfg.BaseURL, parentID)
		if cursor != "" {
			url = fmt.Sprintf("%s?start_cursor=%s", url, cursor)
		}

		resp, err := c.do(ctx, "get_children", func() (*httpclient.Response, error) {
			return c.http.Get(ctx, url, c.headers())
		})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "record %s does not exist", parentID)
		}
		if !httpclient.IsSuccessStatus(resp.StatusCode) {
			return nil, c.statusError(ctx, "get_children", resp)
		}

		var page blockList
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("record_id", parentID).Error("failed to decode child blocks")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode workspace blocks")
		}

		for _, block := range page.Results {
			if text := block.plainText(); text != "" {
				lines = append(lines, text)
			}
			if block.HasChildren && block.ID != "" {
				nested, err := c.fetchBlocks(ctx, block.ID, depth+1)
				if err != nil {
					return nil, err
				}
				lines = append(lines, nested...)
			}
		}

		if !page.HasMore || page.NextCursor == "" {
			return lines, nil
		}
		cursor = page.NextCursor

		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

type blockList struct {
	Results    []childBlock `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor string       `json:"next_cursor"`
}

// childBlock keeps the raw body alongside the envelope fields so plainText
// can look up the payload keyed by the block's own type.
type childBlock struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`

	raw map[string]json.RawMessage
}

func (b *childBlock) UnmarshalJSON(data []byte) error {
	type alias childBlock
	var envelope alias
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	*b = childBlock(envelope)
	return json.Unmarshal(data, &b.raw)
}

// plainText extracts the rich text of whatever block type this is. Blocks
// without rich text (dividers, images) flatten to nothing.
func (b *childBlock) plainText() string {
	payload, ok := b.raw[b.Type]
	if !ok {
		return ""
	}

	var body struct {
		RichText []models.RichTextSpan `json:"rich_text"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}

	var sb strings.Builder
	for _, span := range body.RichText {
		sb.WriteString(span.PlainText)
	}
	return strings.TrimSpace(sb.String())
}

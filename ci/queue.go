package ci

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/net/html"
)

// The master exposes no JSON view of the build queue, only the rendered
// page; the queue widget is identified by this element id.
const queueElementID = "buildQueue"

// Queue is the pending-build view. Only emptiness matters to the
// reconciler; the item links are kept for logs.
type Queue struct {
	Items []string
}

func (q Queue) Empty() bool {
	return len(q.Items) == 0
}

// Queue fetches the master's queue page and scrapes the queued job links
// out of the queue widget.
func (c *Client) Queue(ctx context.Context) (Queue, error) {
	body, err := c.get(ctx, "/queue")
	if err != nil {
		return Queue{}, fmt.Errorf("failed to fetch build queue: %w", err)
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Queue{}, fmt.Errorf("failed to parse build queue page: %w", err)
	}

	widget := findElementByID(doc, queueElementID)
	if widget == nil {
		return Queue{}, fmt.Errorf("build queue page has no '%s' element", queueElementID)
	}

	return Queue{Items: collectLinks(widget)}, nil
}

func findElementByID(node *html.Node, id string) *html.Node {
	if node.Type == html.ElementNode {
		for _, attr := range node.Attr {
			if attr.Key == "id" && attr.Val == id {
				return node
			}
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findElementByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func collectLinks(node *html.Node) []string {
	var links []string
	if node.Type == html.ElementNode && node.Data == "a" {
		for _, attr := range node.Attr {
			if attr.Key == "href" && attr.Val != "" {
				links = append(links, attr.Val)
			}
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		links = append(links, collectLinks(child)...)
	}
	return links
}

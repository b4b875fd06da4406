// Package reddit scrapes market chatter from Reddit's public JSON endpoints.
// No authentication is used; failures are best effort and never fatal to the
// trading loop.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/akaravas/hypetrader/internal/domain"
)

const (
	userAgent      = "hypetrader/1.0 (market sentiment bot)"
	requestTimeout = 10 * time.Second

	// Posts worth mining for comments.
	popularScore    = 100
	popularComments = 50
	topCommentsPer  = 10
	minCommentScore = 5
)

// Post is one scraped submission.
type Post struct {
	ID          string
	Title       string
	Text        string
	Score       int
	NumComments int
	CreatedUTC  float64
	Author      string
}

// Comment is one scraped comment.
type Comment struct {
	Text       string
	Score      int
	CreatedUTC float64
	Author     string
}

// Config holds scraper parameters.
type Config struct {
	BaseURL     string // defaults to https://www.reddit.com
	Subreddit   string
	PostLimit   int
	WindowHours int
}

// Client scrapes a subreddit for recent market chatter.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time // injectable for tests
}

// NewClient creates a Reddit scraper client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.reddit.com"
	}
	if cfg.Subreddit == "" {
		cfg.Subreddit = "wallstreetbets"
	}
	if cfg.PostLimit <= 0 {
		cfg.PostLimit = 100
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 2
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log.With().Str("client", "reddit").Logger(),
		now:        time.Now,
	}
}

// listing mirrors the slice of Reddit's JSON we care about.
type listing struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data struct {
				ID          string  `json:"id"`
				Title       string  `json:"title"`
				SelfText    string  `json:"selftext"`
				Body        string  `json:"body"`
				Score       int     `json:"score"`
				NumComments int     `json:"num_comments"`
				CreatedUTC  float64 `json:"created_utc"`
				Author      string  `json:"author"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (c *Client) getJSON(ctx context.Context, rawURL string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ScrapeSubreddit fetches the hot listing and keeps posts inside the
// freshness window.
func (c *Client) ScrapeSubreddit(ctx context.Context) ([]Post, error) {
	rawURL := fmt.Sprintf("%s/r/%s/hot.json", c.cfg.BaseURL, c.cfg.Subreddit)
	params := url.Values{"limit": []string{strconv.Itoa(c.cfg.PostLimit)}}

	var body listing
	if err := c.getJSON(ctx, rawURL, params, &body); err != nil {
		return nil, domain.E(domain.KindData, "reddit.scrape_subreddit", err)
	}

	cutoff := c.now().Add(-time.Duration(c.cfg.WindowHours) * time.Hour)
	var posts []Post
	for _, child := range body.Data.Children {
		created := time.Unix(int64(child.Data.CreatedUTC), 0)
		if created.Before(cutoff) {
			continue
		}
		posts = append(posts, Post{
			ID:          child.Data.ID,
			Title:       child.Data.Title,
			Text:        child.Data.SelfText,
			Score:       child.Data.Score,
			NumComments: child.Data.NumComments,
			CreatedUTC:  child.Data.CreatedUTC,
			Author:      child.Data.Author,
		})
	}

	c.log.Info().Int("posts", len(posts)).Str("subreddit", c.cfg.Subreddit).Msg("Scraped subreddit")
	return posts, nil
}

// ScrapeComments fetches the comments of one post. The comments endpoint
// returns a two-element array; the second element holds the comment tree.
func (c *Client) ScrapeComments(ctx context.Context, postID string) ([]Comment, error) {
	rawURL := fmt.Sprintf("%s/r/%s/comments/%s.json", c.cfg.BaseURL, c.cfg.Subreddit, postID)
	params := url.Values{"limit": []string{"50"}}

	var body []listing
	if err := c.getJSON(ctx, rawURL, params, &body); err != nil {
		return nil, domain.E(domain.KindData, "reddit.scrape_comments", err)
	}
	if len(body) < 2 {
		return nil, nil
	}

	var comments []Comment
	for _, child := range body[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}
		comments = append(comments, Comment{
			Text:       child.Data.Body,
			Score:      child.Data.Score,
			CreatedUTC: child.Data.CreatedUTC,
			Author:     child.Data.Author,
		})
	}
	return comments, nil
}

// GetMarketChatter collects post titles, self-texts and the top comments of
// popular posts into one flat text slice. Comment failures are logged and
// skipped; only the listing fetch itself can fail.
func (c *Client) GetMarketChatter(ctx context.Context) ([]string, error) {
	posts, err := c.ScrapeSubreddit(ctx)
	if err != nil {
		return nil, err
	}

	var texts []string
	for _, post := range posts {
		texts = append(texts, post.Title)
		if post.Text != "" {
			texts = append(texts, post.Text)
		}

		if post.Score <= popularScore && post.NumComments <= popularComments {
			continue
		}
		comments, err := c.ScrapeComments(ctx, post.ID)
		if err != nil {
			c.log.Warn().Err(err).Str("post_id", post.ID).Msg("Failed to scrape comments")
			continue
		}
		taken := 0
		for _, comment := range comments {
			if taken >= topCommentsPer {
				break
			}
			if comment.Score > minCommentScore && comment.Text != "" {
				texts = append(texts, comment.Text)
				taken++
			}
		}
	}

	c.log.Info().Int("texts", len(texts)).Msg("Collected market chatter")
	return texts, nil
}

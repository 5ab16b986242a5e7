package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Config controls the headless Maps scraper.
type Config struct {
	MaxParallel    int
	UserAgent      string
	NavTimeout     time.Duration
	ScrollAttempts int
}

// MapsScraper implements Scraper with headless Chrome via chromedp.
// A single browser allocator is shared; each scrape runs in its own tab
// bounded by the parallel limiter.
type MapsScraper struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewMapsScraper creates the chromedp-backed scraper.
func NewMapsScraper(cfg Config, logger *zap.Logger) (*MapsScraper, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	if cfg.ScrollAttempts <= 0 {
		cfg.ScrollAttempts = 5
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("lang", "pt-BR"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &MapsScraper{
		cfg:         cfg,
		limiter:     make(chan struct{}, cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close tears down the shared browser allocator.
func (m *MapsScraper) Close() {
	m.allocCancel()
}

// Scrape navigates to a Maps search for the query, scrolls the results
// feed until enough cards are loaded, and extracts lead records.
func (m *MapsScraper) Scrape(ctx context.Context, query Query) ([]Lead, error) {
	select {
	case m.limiter <- struct{}{}:
	case <-ctx.Done():
		return nil, &ScrapeError{Stage: "slot wait", Err: ctx.Err()}
	}
	defer func() { <-m.limiter }()

	tabCtx, tabCancel := chromedp.NewContext(m.allocator)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, m.cfg.NavTimeout)
	defer cancel()

	searchURL := m.searchURL(query)
	m.logger.Info("scrape started",
		zap.String("region", query.Region),
		zap.String("business_type", query.BusinessType),
		zap.String("url", searchURL),
	)

	actions := []chromedp.Action{
		chromedp.Navigate(searchURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(2 * time.Second),
	}
	if m.cfg.UserAgent != "" {
		actions = append([]chromedp.Action{
			chromedp.ActionFunc(func(ctx context.Context) error {
				return emulation.SetUserAgentOverride(m.cfg.UserAgent).Do(ctx)
			}),
		}, actions...)
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, &ScrapeError{Stage: "navigate", Err: err}
	}

	if err := m.scrollFeed(tabCtx, query.MaxResults); err != nil {
		return nil, err
	}

	var cards []resultCard
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(extractJS, &cards)); err != nil {
		return nil, &ScrapeError{Stage: "extract", Err: err}
	}

	leads := make([]Lead, 0, len(cards))
	for _, card := range cards {
		if card.Name == "" {
			continue
		}
		leads = append(leads, card.toLead())
		if len(leads) >= query.MaxResults {
			break
		}
	}
	m.logger.Info("scrape finished",
		zap.String("region", query.Region),
		zap.Int("leads", len(leads)),
	)
	return leads, nil
}

// scrollFeed scrolls the results container until enough place links are
// loaded or repeated scrolls stop producing new cards.
func (m *MapsScraper) scrollFeed(ctx context.Context, want int) error {
	previous := -1
	stalled := 0
	for i := 0; i < m.cfg.ScrollAttempts; i++ {
		var count int
		err := chromedp.Run(ctx,
			chromedp.Evaluate(scrollJS, nil),
			chromedp.Sleep(2*time.Second),
			chromedp.Evaluate(countJS, &count),
		)
		if err != nil {
			return &ScrapeError{Stage: "scroll", Err: err}
		}
		if count >= want {
			return nil
		}
		if count <= previous {
			stalled++
			if stalled >= 2 {
				return nil
			}
		} else {
			stalled = 0
		}
		previous = count
	}
	return nil
}

// searchURL builds the Maps search URL, accents stripped and terms
// joined with plus signs.
func (m *MapsScraper) searchURL(query Query) string {
	terms := []string{query.BusinessType, "em", query.Region}
	terms = append(terms, query.Keywords...)
	normalized := normalizeSearchTerm(strings.Join(terms, " "))
	return fmt.Sprintf("https://www.google.com/maps/search/%s", url.PathEscape(normalized))
}

// normalizeSearchTerm removes diacritics and collapses whitespace.
func normalizeSearchTerm(term string) string {
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripper, term)
	if err != nil {
		stripped = term
	}
	return strings.Join(strings.Fields(stripped), " ")
}

type resultCard struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Website string `json:"website"`
	Rating  string `json:"rating"`
	Reviews string `json:"reviews"`
}

func (c resultCard) toLead() Lead {
	lead := Lead{
		Name:    strings.TrimSpace(c.Name),
		Address: strings.TrimSpace(c.Address),
		Phone:   strings.TrimSpace(c.Phone),
		Website: strings.TrimSpace(c.Website),
	}
	if c.Rating != "" {
		if rating, err := strconv.ParseFloat(strings.ReplaceAll(c.Rating, ",", "."), 64); err == nil {
			lead.Rating = rating
		}
	}
	if c.Reviews != "" {
		digits := keepDigits(c.Reviews)
		if reviews, err := strconv.Atoi(digits); err == nil {
			lead.ReviewCount = reviews
		}
	}
	return lead
}

func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

const countJS = `document.querySelectorAll('a[href^="https://www.google.com/maps/place"]').length`

const scrollJS = `(() => {
	const feed = document.querySelector('div[role="feed"]') || document.querySelector('div[role="main"]');
	if (feed) {
		feed.scrollTop = feed.scrollHeight;
	}
	window.scrollTo(0, document.body.scrollHeight);
	return true;
})()`

const extractJS = `(() => {
	const cards = Array.from(document.querySelectorAll('div[role="feed"] div.Nv2PK'));
	return cards.map((card) => {
		const link = card.querySelector('a[href^="https://www.google.com/maps/place"]');
		const name = link ? (link.getAttribute('aria-label') || '') : '';
		const ratingEl = card.querySelector('span.MW4etd');
		const reviewsEl = card.querySelector('span.UY7F9');
		const websiteEl = card.querySelector('a[data-value="Website"]');
		const lines = Array.from(card.querySelectorAll('div.W4Efsd span'))
			.map((s) => s.textContent.trim())
			.filter(Boolean);
		const phone = lines.find((t) => /\d[\d\s().+-]{7,}/.test(t)) || '';
		const address = lines.find((t) => /\d/.test(t) && t !== phone) || '';
		return {
			name: name,
			address: address,
			phone: phone,
			website: websiteEl ? websiteEl.href : '',
			rating: ratingEl ? ratingEl.textContent.trim() : '',
			reviews: reviewsEl ? reviewsEl.textContent.trim() : '',
		};
	});
})()`

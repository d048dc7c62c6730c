package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"PricePulse/internal/domain/models"
	"PricePulse/pkg/config"
	applogger "PricePulse/pkg/logger"
)

// BrowserAdapter drives a headless Chrome against stores whose catalog pages
// are rendered client-side. Extraction runs as injected JS so one navigation
// yields the whole visible product grid.
type BrowserAdapter struct {
	store   config.StoreConfig
	logger  *applogger.Logger
	timeout time.Duration
}

func NewBrowserAdapter(store config.StoreConfig, logger *applogger.Logger) *BrowserAdapter {
	return &BrowserAdapter{
		store:   store,
		logger:  logger,
		timeout: 90 * time.Second,
	}
}

func (a *BrowserAdapter) Store() string { return a.store.ID }

type browserCard struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
	URL         string `json:"url"`
}

const extractCardsJS = `
	(function() {
		var results = [];
		var selectors = [
			'[data-testid="product-card"]',
			'[itemtype*="schema.org/Product"]',
			'article[class*="product"]',
			'li[class*="product"]',
			'div[class*="product-tile"]'
		];

		var cards = [];
		for (var si = 0; si < selectors.length; si++) {
			cards = document.querySelectorAll(selectors[si]);
			if (cards.length > 0) break;
		}

		var seen = {};
		for (var i = 0; i < cards.length; i++) {
			var card = cards[i];

			var titleEl = card.querySelector('[data-testid="product-title"]') ||
			              card.querySelector('[itemprop="name"]') ||
			              card.querySelector('h2, h3, h4');
			var title = titleEl ? titleEl.innerText.trim() : '';
			if (!title) continue;

			var priceEl = card.querySelector('[data-testid="product-price"]') ||
			              card.querySelector('[itemprop="price"]') ||
			              card.querySelector('[class*="price"]');
			var price = '';
			if (priceEl) {
				var text = priceEl.innerText || priceEl.getAttribute('content') || '';
				var match = text.match(/[\$€£¥]?\s*[\d.,]+(?:\s*\/\s*\w+)?/);
				price = match ? match[0].trim() : text.split('\n')[0];
			}
			if (!price) continue;

			var descEl = card.querySelector('[data-testid="product-subtitle"]') ||
			             card.querySelector('[itemprop="description"]') ||
			             card.querySelector('p');
			var desc = descEl ? descEl.innerText.trim().substring(0, 300) : '';

			var linkEl = card.querySelector('a[href]');
			var url = linkEl ? linkEl.href : '';
			var key = url || title;
			if (seen[key]) continue;
			seen[key] = true;

			results.push({ title: title, description: desc, price: price, url: url });
		}
		return results;
	})()
`

func (a *BrowserAdapter) Fetch(ctx context.Context) (<-chan models.RawListing, <-chan error) {
	out := make(chan models.RawListing, 256)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		cards, err := a.scrapeCatalog(ctx)
		if err != nil {
			errs <- fmt.Errorf("%w: store %s: %v", models.ErrSourceUnavailable, a.store.ID, err)
			return
		}
		if len(cards) == 0 {
			// The page loaded but none of the card selectors matched.
			errs <- fmt.Errorf("%w: store %s: no product cards in page", models.ErrParse, a.store.ID)
			return
		}

		now := time.Now().UTC()
		for _, c := range cards {
			listing := models.RawListing{
				StoreID:     a.store.ID,
				Title:       c.Title,
				Description: c.Description,
				RawPrice:    c.Price,
				Currency:    a.store.Currency,
				ScrapedAt:   now,
				SourceURL:   c.URL,
			}
			select {
			case out <- listing:
			case <-ctx.Done():
				return
			}
		}
		a.logger.Debug("browser catalog scraped",
			applogger.String("store", a.store.ID),
			applogger.Int("items", len(cards)),
		)
	}()

	return out, errs
}

func (a *BrowserAdapter) scrapeCatalog(ctx context.Context) ([]browserCard, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if bin := findChromeBinary(); bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, a.timeout)
	defer cancelRun()

	var cards []browserCard
	err := chromedp.Run(runCtx,
		chromedp.Navigate(a.store.BaseURL),
		chromedp.Sleep(5*time.Second),

		// Scroll to trigger lazy-loaded tiles.
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(2*time.Second),

		chromedp.Evaluate(extractCardsJS, &cards),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp extract: %w", err)
	}
	return cards, nil
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}
	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

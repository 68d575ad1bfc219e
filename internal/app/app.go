package app

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"sofascraper/internal/browser"
	"sofascraper/internal/cache"
	"sofascraper/internal/checker"
	"sofascraper/internal/config"
	"sofascraper/internal/domain"
	"sofascraper/internal/history"
	"sofascraper/internal/pool"
	"sofascraper/internal/registry"
	"sofascraper/internal/support"
)

// Run wires the proxy pool together, gates everything on VPN connectivity
// and optionally scrapes a URL through a rotating session.
func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)

	settingsFlag := flag.String("settings", config.DefaultSettingsPath, "Path to the settings file")
	refreshFlag := flag.Bool("refresh", false, "Force a registry fetch and full re-validation")
	urlFlag := flag.String("url", "", "API URL to scrape once the pool is ready")
	pagesFlag := flag.Int("pages", 1, "Number of fetches to run against -url")
	flag.Parse()

	cfg, err := config.Load(*settingsFlag)
	if err != nil {
		return err
	}

	factory := browser.NewFactory(cfg)
	source := registry.NewSource(cfg.Source.RegistryURL, cfg.SourceTimeout())
	store := cache.NewStore(cfg.Cache.Directory)
	probe := checker.New(factory, cfg)

	var ledger pool.Ledger
	if cfg.History.Path != "" {
		historyStore, err := history.Open(cfg.History.Path)
		if err != nil {
			log.Warn("History ledger unavailable, continuing without it", "error", err)
		} else {
			defer func() {
				if err := historyStore.Close(); err != nil {
					log.Warn("Error closing history ledger", "error", err)
				}
			}()
			ledger = historyStore
		}
	}

	proxyPool := pool.New(source, store, probe, ledger, cfg.Checker.VPNCheckURL)

	connected, err := proxyPool.VerifyUpstreamVPNConnectivity()
	if err != nil {
		return err
	}
	if !connected {
		return pool.ErrVPNNotConnected
	}

	records, err := proxyPool.Get(context.Background(), *refreshFlag, cfg.Cache.MaxAgeHours)
	if err != nil {
		return err
	}
	log.Info("Proxy pool ready", "proxies", len(records))

	if *urlFlag == "" {
		return nil
	}

	return scrape(cfg, factory, records, *urlFlag, *pagesFlag)
}

func scrape(cfg config.Config, factory browser.SessionFactory, records []domain.ProxyRecord, url string, pages int) error {
	retry := support.NewRetryPolicy(cfg.Retry.MaxAttempts, cfg.RetryDelay(), cfg.Retry.Backoff)

	if !cfg.Rotation.Enabled {
		return scrapeSingleExit(factory, retry, records, url, pages)
	}

	session, err := browser.NewRotatingSession(factory, records, cfg.Rotation, retry)
	if err != nil {
		return fmt.Errorf("start rotating session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("Error closing rotating session", "error", err)
		}
	}()

	for i := 0; i < pages; i++ {
		payload, err := session.FetchJSON(url)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		if err := printJSON(payload); err != nil {
			return err
		}
	}
	return nil
}

func scrapeSingleExit(factory browser.SessionFactory, retry support.RetryPolicy, records []domain.ProxyRecord, url string, pages int) error {
	proxy := records[rand.Intn(len(records))]

	session, err := factory(&proxy)
	if err != nil {
		return fmt.Errorf("start session via %s: %w", proxy.Hostname, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("Error closing session", "error", err)
		}
	}()

	for i := 0; i < pages; i++ {
		var payload map[string]any
		err := retry.Do("fetch "+url, func() error {
			if err := session.Navigate(url); err != nil {
				return err
			}
			body, err := session.ExtractJSON()
			if err != nil {
				return err
			}
			payload = body
			return nil
		})
		if err != nil {
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		if err := printJSON(payload); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(payload map[string]any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("render payload: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"sofascraper/internal/cache"
	"sofascraper/internal/domain"
)

var (
	// ErrNoProxiesAvailable means a refresh ran and zero proxies survived
	// validation. Hard stop for any caller that needs an exit node.
	ErrNoProxiesAvailable = errors.New("no valid proxies available after refresh")

	// ErrVPNNotConnected means the machine is not routed through the VPN.
	// Validating in that state would silently mark every proxy invalid, so
	// callers must treat this as fatal before starting a refresh.
	ErrVPNNotConnected = errors.New("not connected through the VPN")
)

// Source yields candidate proxy records, normally from the public relay
// registry.
type Source interface {
	Fetch() ([]domain.ProxyRecord, error)
}

// Checker probes candidates and returns one stamped result per input.
type Checker interface {
	CheckAll(ctx context.Context, candidates []domain.ProxyRecord) []domain.ProxyRecord
}

// Ledger receives every probed record for long-term auditing. Optional.
type Ledger interface {
	Record(records []domain.ProxyRecord) error
}

// Pool is the single entry point for obtaining ready-to-use proxies. It
// hides the fetch/validate/cache decision behind Get.
type Pool struct {
	source  Source
	cache   *cache.Store
	checker Checker
	ledger  Ledger

	vpnCheckURL string
	client      *http.Client
}

func New(source Source, store *cache.Store, checker Checker, ledger Ledger, vpnCheckURL string) *Pool {
	return &Pool{
		source:      source,
		cache:       store,
		checker:     checker,
		ledger:      ledger,
		vpnCheckURL: vpnCheckURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Get returns the current list of valid proxies. A fresh-enough cached
// snapshot short-circuits the whole refresh; otherwise the registry is
// fetched, every candidate validated, and both the valid subset and the full
// audit snapshot written back to the cache.
func (p *Pool) Get(ctx context.Context, forceRefresh bool, maxAgeHours float64) ([]domain.ProxyRecord, error) {
	if !forceRefresh {
		if fresh, path := p.cache.IsFresh(maxAgeHours); fresh {
			records := p.cache.LoadLatest()
			if len(records) > 0 {
				log.Info("Using cached proxy snapshot", "path", path, "proxies", len(records))
				return records, nil
			}
			log.Warn("Fresh snapshot is empty, refreshing", "path", path)
		}
	}

	candidates, err := p.source.Fetch()
	if err != nil {
		// Stale cache beats no proxies at all; propagate only when the
		// fallback is empty too.
		if cached := p.cache.LoadLatest(); len(cached) > 0 {
			log.Warn("Registry fetch failed, falling back to cached snapshot", "error", err, "proxies", len(cached))
			return cached, nil
		}
		return nil, fmt.Errorf("refresh proxy pool: %w", err)
	}

	if len(candidates) == 0 {
		log.Warn("Registry returned no candidates, keeping previous snapshot")
		if cached := p.cache.LoadLatest(); len(cached) > 0 {
			return cached, nil
		}
		return nil, ErrNoProxiesAvailable
	}

	results := p.checker.CheckAll(ctx, candidates)
	merged := domain.MergeResults(candidates, results)
	valid := domain.FilterValid(merged)

	if _, err := p.cache.Save(valid, false); err != nil {
		log.Error("Failed to write validated snapshot", "error", err)
	}
	if _, err := p.cache.Save(merged, true); err != nil {
		log.Error("Failed to write audit snapshot", "error", err)
	}

	if p.ledger != nil {
		if err := p.ledger.Record(merged); err != nil {
			log.Warn("Failed to record check results", "error", err)
		}
	}

	if len(valid) == 0 {
		return nil, ErrNoProxiesAvailable
	}

	log.Info("Proxy pool refreshed", "valid", len(valid), "candidates", len(candidates))
	return valid, nil
}

// VerifyUpstreamVPNConnectivity probes the "am I routed through the VPN"
// endpoint. Callers gate refreshes on this; an unrouted validation run would
// poison every result.
func (p *Pool) VerifyUpstreamVPNConnectivity() (bool, error) {
	resp, err := p.client.Get(p.vpnCheckURL)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrVPNNotConnected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("%w: unexpected status %d", ErrVPNNotConnected, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("%w: read body: %v", ErrVPNNotConnected, err)
	}

	var payload struct {
		IP          string `json:"ip"`
		MullvadExit bool   `json:"mullvad_exit_ip"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, fmt.Errorf("%w: parse body: %v", ErrVPNNotConnected, err)
	}

	if !payload.MullvadExit {
		log.Warn("Not routed through the VPN", "ip", payload.IP)
		return false, nil
	}

	log.Debug("VPN connectivity verified", "ip", payload.IP)
	return true, nil
}

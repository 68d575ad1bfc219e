package checker

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	xproxy "golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"sofascraper/internal/browser"
	"sofascraper/internal/config"
	"sofascraper/internal/domain"
)

// validTournamentIDs is the allow-list of probe targets. Each check picks
// one uniformly at random so a batch run does not hammer a single upstream
// resource.
var validTournamentIDs = []int{
	1, 2, 3, 16, 17, 72, 84, 4, 19, 77, 5, 6, 65, 78, 12, 13, 15, 18,
	23, 24, 27, 28, 29, 30, 69, 31, 33, 34, 35, 87, 88, 89, 90, 91, 36,
	37, 38, 39, 40, 41, 42, 43, 44, 45, 48, 49, 50, 51, 52, 53, 54, 55,
	56, 57, 73, 58, 62, 63, 64, 66, 86, 68, 71, 79, 82, 83, 92, 94, 98,
}

// Checker probes candidate proxies against the target API through transient
// browser sessions. Workers never mutate their input; each check returns a
// fresh record carrying the outcome.
type Checker struct {
	Factory          browser.SessionFactory
	Threads          uint32
	ProbeTimeout     time.Duration
	DialTimeout      time.Duration
	ProbeURLTemplate string
	DialProbeAddr    string
}

// DefaultDialProbeAddr is dialed through the relay during the cheap
// reachability pre-check, before a browser is paid for.
const DefaultDialProbeAddr = "api.sofascore.com:443"

func New(factory browser.SessionFactory, cfg config.Config) *Checker {
	return &Checker{
		Factory:          factory,
		Threads:          cfg.Checker.Threads,
		ProbeTimeout:     cfg.ProbeTimeout(),
		DialTimeout:      cfg.DialTimeout(),
		ProbeURLTemplate: cfg.Checker.ProbeURLTemplate,
		DialProbeAddr:    DefaultDialProbeAddr,
	}
}

// Check probes a single candidate and returns the stamped result. CheckedAt
// is always set; Valid turns true only when the target API answered with a
// tournament payload. The transient session is closed on every exit path.
func (c *Checker) Check(ctx context.Context, candidate domain.ProxyRecord) domain.ProxyRecord {
	if c.ProbeTimeout <= 0 {
		return c.probe(candidate)
	}

	// A stuck probe must cost its own worker slot only. The goroutine keeps
	// ownership of the session and still closes it when it eventually
	// returns; we just stop waiting for it.
	done := make(chan domain.ProxyRecord, 1)
	go func() {
		done <- c.probe(candidate)
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		result := candidate
		result.MarkInvalid(time.Now().UTC(), "check canceled: "+ctx.Err().Error())
		return result
	case <-time.After(c.ProbeTimeout):
		result := candidate
		result.MarkInvalid(time.Now().UTC(), fmt.Sprintf("probe timed out after %s", c.ProbeTimeout))
		return result
	}
}

func (c *Checker) probe(candidate domain.ProxyRecord) (result domain.ProxyRecord) {
	result = candidate
	log.Debug("Checking proxy", "hostname", result.Hostname, "country", result.Country)

	if c.DialTimeout > 0 {
		if err := c.reachable(result); err != nil {
			result.MarkInvalid(time.Now().UTC(), fmt.Sprintf("socks5 unreachable: %v", err))
			return result
		}
	}

	session, err := c.Factory(&result)
	if err != nil {
		result.MarkInvalid(time.Now().UTC(), err.Error())
		return result
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Debug("Closing probe session", "hostname", result.Hostname, "error", err)
		}
	}()

	if err := session.Navigate(c.probeURL()); err != nil {
		result.MarkInvalid(time.Now().UTC(), err.Error())
		return result
	}

	payload, err := session.ExtractJSON()
	if err != nil {
		result.MarkInvalid(time.Now().UTC(), err.Error())
		return result
	}

	now := time.Now().UTC()
	switch {
	case payload == nil:
		// Empty body: probed but unusable, without a driver failure.
		result.CheckedAt = &now
	case payload["tournament"] != nil:
		result.MarkValid(now)
		log.Debug("Proxy valid", "hostname", result.Hostname)
	case payload["error"] != nil:
		code, reason := errorFields(payload["error"])
		result.MarkBlocked(now, code, reason)
		log.Debug("Proxy blocked", "hostname", result.Hostname, "code", code, "reason", reason)
	default:
		result.CheckedAt = &now
	}

	return result
}

// CheckAll probes every candidate across a bounded worker pool and returns
// one result per input. A single failing candidate never aborts the batch;
// completion order is unconstrained but the returned slice matches input
// order.
func (c *Checker) CheckAll(ctx context.Context, candidates []domain.ProxyRecord) []domain.ProxyRecord {
	total := len(candidates)
	if total == 0 {
		return nil
	}

	threads := int(c.Threads)
	if threads < 1 {
		threads = 1
	}

	log.Info("Checking proxies", "total", total, "threads", threads)

	results := make([]domain.ProxyRecord, total)
	var completed atomic.Uint32

	var group errgroup.Group
	group.SetLimit(threads)

	for i, candidate := range candidates {
		i, candidate := i, candidate
		group.Go(func() error {
			// Each worker owns exactly one result slot; no shared mutation.
			results[i] = c.Check(ctx, candidate)
			done := completed.Add(1)
			log.Debug("Proxy check finished", "hostname", candidate.Hostname, "done", done, "total", total)
			return nil
		})
	}
	_ = group.Wait()

	valid := 0
	for _, result := range results {
		if result.IsValid() {
			valid++
		}
	}
	log.Info("Proxy check complete", "valid", valid, "total", total)

	return results
}

// reachable dials the probe target through the relay's SOCKS5 listener. It
// filters out dead relays for the price of one TCP handshake instead of a
// browser launch.
func (c *Checker) reachable(record domain.ProxyRecord) error {
	relay := net.JoinHostPort(record.RelayAddress, strconv.Itoa(domain.SocksPort))

	dialer, err := xproxy.SOCKS5("tcp", relay, nil, &net.Dialer{Timeout: c.DialTimeout})
	if err != nil {
		return err
	}

	target := c.DialProbeAddr
	if target == "" {
		target = DefaultDialProbeAddr
	}

	conn, err := dialer.Dial("tcp", target)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Checker) probeURL() string {
	id := validTournamentIDs[rand.Intn(len(validTournamentIDs))]
	return fmt.Sprintf(c.ProbeURLTemplate, id)
}

func errorFields(raw any) (code, reason string) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return "", fmt.Sprint(raw)
	}
	return stringify(obj["code"]), stringify(obj["reason"])
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return fmt.Sprint(v)
	}
}

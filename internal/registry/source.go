package registry

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"sofascraper/internal/domain"
)

// ErrSourceUnavailable reports that the relay registry could not be fetched.
// It covers both transport failures and non-success status codes; callers may
// retry later or fall back to a cached snapshot.
var ErrSourceUnavailable = errors.New("proxy registry unavailable")

// Source fetches the public Mullvad SOCKS5 relay list, a column-aligned
// plaintext table refreshed a few times per day.
type Source struct {
	URL    string
	client *http.Client
}

func NewSource(url string, timeout time.Duration) *Source {
	return &Source{
		URL:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// columnGap matches the two-or-more whitespace runs separating registry
// columns.
// Single spaces stay inside a field so "Los Angeles, CA" survives the split.
var columnGap = regexp.MustCompile(`\s{2,}`)

// Fetch downloads and parses the registry. An empty result with a nil error
// means the registry currently lists no relays; treat it as "try later".
func (s *Source) Fetch() ([]domain.ProxyRecord, error) {
	resp, err := s.client.Get(s.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrSourceUnavailable, err)
	}

	records := Parse(string(body))
	log.Info("Fetched relay registry", "url", s.URL, "relays", len(records))
	return records, nil
}

// Parse turns the registry table into proxy records. Header lines are
// skipped by prefix; data lines that do not yield at least four usable
// columns are dropped with a debug note, never an error.
func Parse(text string) []domain.ProxyRecord {
	lines := strings.Split(text, "\n")
	records := make([]domain.ProxyRecord, 0, len(lines))

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if isHeaderLine(line) {
			continue
		}

		record, ok := parseLine(line)
		if !ok {
			log.Debug("Skipping malformed registry line", "line", strings.TrimSpace(line))
			continue
		}
		records = append(records, record)
	}

	return records
}

func isHeaderLine(line string) bool {
	return strings.HasPrefix(line, "Date:") ||
		strings.HasPrefix(line, "Total") ||
		strings.HasPrefix(line, " flag")
}

func parseLine(line string) (domain.ProxyRecord, bool) {
	raw := columnGap.Split(line, -1)

	fields := make([]string, 0, len(raw))
	for _, field := range raw {
		field = strings.TrimSpace(field)
		if field != "" {
			fields = append(fields, field)
		}
	}

	// flag glyph, country, city, relay address ... hostname
	if len(fields) < 4 {
		return domain.ProxyRecord{}, false
	}

	country := strings.ReplaceAll(fields[1], " ", "_")
	city := strings.ReplaceAll(fields[2], ", ", "_")
	city = strings.ReplaceAll(city, " ", "_")
	relayAddress := fields[3]
	hostname := fields[len(fields)-1]

	return domain.NewProxyRecord(country, city, relayAddress, hostname), true
}

package registry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const sampleRegistry = `Date: 2025-04-04 06-51-44 UTC
Total active proxies: 479
 flag  country         city                socks5        ipv4             ipv6                                  speed  multihop  owned  provider       stboot  hostname
 🇦🇱    Albania         Tirana              10.124.0.155  31.171.153.66    2a04:27c0:0:3::f001                   10     3155      ❌     iRegister      ✔️      al-tia-wg-001
 🇦🇹    Austria         Vienna              10.124.2.35   146.70.116.98    2001:ac8:29:84::a01f                  10     3543      ❌     M247           ✔️      at-vie-wg-001
`

func TestParseSampleRegistry(t *testing.T) {
	records := Parse(sampleRegistry)

	if len(records) != 2 {
		t.Fatalf("Parse returned %d records, want 2", len(records))
	}

	first := records[0]
	if first.Country != "Albania" || first.City != "Tirana" {
		t.Fatalf("unexpected geo fields: %s / %s", first.Country, first.City)
	}
	if first.RelayAddress != "10.124.0.155" {
		t.Fatalf("relay address was %s", first.RelayAddress)
	}
	if first.Hostname != "al-tia-wg-001" {
		t.Fatalf("hostname was %s", first.Hostname)
	}
	if first.ProxyURL != "socks5://10.124.0.155:1080" {
		t.Fatalf("proxy URL was %s", first.ProxyURL)
	}
}

func TestParseSkipsMalformedLines(t *testing.T) {
	text := `Date: 2025-04-04 06-51-44 UTC
 🇦🇱    Albania
 🇦🇹    Austria         Vienna              10.124.2.35   146.70.116.98    2001:ac8:29:84::a01f                  10     3543      ❌     M247           ✔️      at-vie-wg-001
`
	records := Parse(text)

	if len(records) != 1 {
		t.Fatalf("Parse returned %d records, want 1", len(records))
	}
	if records[0].Hostname != "at-vie-wg-001" {
		t.Fatalf("hostname was %s, want at-vie-wg-001", records[0].Hostname)
	}
}

func TestParseMultiWordAndNonASCIIFields(t *testing.T) {
	text := ` 🇺🇸    USA             Los Angeles, CA     10.124.10.7   198.51.100.4     2001:db8::1                           10     4100      ❌     M247           ✔️      us-lax-wg-101
 🇸🇪    Sweden          Malmö               10.124.1.10   192.0.2.14       2001:db8::2                           10     3900      ✔️     Mullvad        ✔️      se-mma-wg-001
 🇬🇧    United Kingdom  London              10.124.4.20   203.0.113.9      2001:db8::3                           10     4010      ❌     M247           ✔️      gb-lon-wg-004
`
	records := Parse(text)

	if len(records) != 3 {
		t.Fatalf("Parse returned %d records, want 3", len(records))
	}
	if records[0].City != "Los_Angeles_CA" {
		t.Fatalf("city was %s, want Los_Angeles_CA", records[0].City)
	}
	if records[1].City != "Malmö" {
		t.Fatalf("city was %s, want Malmö", records[1].City)
	}
	if records[2].Country != "United_Kingdom" {
		t.Fatalf("country was %s, want United_Kingdom", records[2].Country)
	}
}

func TestParseEmptyBody(t *testing.T) {
	if records := Parse(""); len(records) != 0 {
		t.Fatalf("Parse of empty body returned %d records", len(records))
	}
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleRegistry))
	}))
	defer server.Close()

	source := NewSource(server.URL, 5*time.Second)

	records, err := source.Fetch()
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Fetch returned %d records, want 2", len(records))
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	source := NewSource(server.URL, 5*time.Second)

	if _, err := source.Fetch(); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Fetch error was %v, want ErrSourceUnavailable", err)
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // fetch against a dead listener

	source := NewSource(server.URL, time.Second)

	if _, err := source.Fetch(); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Fetch error was %v, want ErrSourceUnavailable", err)
	}
}

func TestFetchEmptyRegistryIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Date: 2025-04-04 06-51-44 UTC\nTotal active proxies: 0\n"))
	}))
	defer server.Close()

	source := NewSource(server.URL, 5*time.Second)

	records, err := source.Fetch()
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("Fetch returned %d records, want 0", len(records))
	}
}

package xbrl

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ratio-cli/internal/fetcher"
)

// DefaultBaseURL is the EDGAR XBRL API host.
const DefaultBaseURL = "https://data.sec.gov"

// CompanyFactsURL returns the company facts endpoint for cik.
func CompanyFactsURL(baseURL string, cik int) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return fmt.Sprintf("%s/api/xbrl/companyfacts/CIK%010d.json", strings.TrimRight(baseURL, "/"), cik)
}

// FetchCompanyFacts downloads and parses the company facts for cik.
func FetchCompanyFacts(ctx context.Context, f fetcher.Fetcher, baseURL string, cik int) (*CompanyFacts, error) {
	if cik <= 0 {
		return nil, eris.Errorf("xbrl: invalid cik %d", cik)
	}
	body, err := f.Get(ctx, CompanyFactsURL(baseURL, cik))
	if err != nil {
		return nil, eris.Wrapf(err, "xbrl: fetch company facts for cik %d", cik)
	}
	return ParseCompanyFacts(bytes.NewReader(body))
}

package report

import (
	"sort"
	"time"

	"github.com/nao1215/torisolate/internal/credential"
	"github.com/nao1215/torisolate/internal/fetch"
	"github.com/nao1215/torisolate/internal/proxyconfig"
)

// CredentialRow describes one cached site credential without its secret.
type CredentialRow struct {
	SiteKey   string    `json:"site_key"`
	Username  string    `json:"username"`
	ProxyURL  string    `json:"proxy_url"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Summary is the data rendered by every Writer.
type Summary struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Proxy       string          `json:"proxy"`
	TTL         time.Duration   `json:"ttl_ns"`
	Credentials []CredentialRow `json:"credentials"`
	Results     []fetch.Result  `json:"results,omitempty"`
}

// NewSummary builds a Summary from the store contents and fetch results.
// Credential rows are sorted by site key.
func NewSummary(endpoint proxyconfig.Endpoint, ttl time.Duration, creds []credential.Credential, results []fetch.Result, now time.Time) *Summary {
	rows := make([]CredentialRow, 0, len(creds))
	for _, cred := range creds {
		cfg := proxyconfig.Build(endpoint, cred)
		rows = append(rows, CredentialRow{
			SiteKey:   cred.SiteKey,
			Username:  cfg.Username,
			ProxyURL:  cfg.String(),
			CreatedAt: cred.CreatedAt,
			ExpiresAt: cred.ExpiresAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].SiteKey < rows[j].SiteKey
	})

	return &Summary{
		GeneratedAt: now,
		Proxy:       endpoint.String(),
		TTL:         ttl,
		Credentials: rows,
		Results:     results,
	}
}

// Succeeded returns the number of results without an error.
func (s *Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of results with an error.
func (s *Summary) Failed() int {
	return len(s.Results) - s.Succeeded()
}

// Truncated returns the number of results whose body hit the size limit.
func (s *Summary) Truncated() int {
	n := 0
	for _, r := range s.Results {
		if r.Truncated {
			n++
		}
	}
	return n
}

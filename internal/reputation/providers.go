package reputation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/rishisurf/erads/pkg/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProviderResult is the normalized shape every adapter maps its
// upstream response onto. A field absent upstream maps to false for
// booleans and "" for optional scalars — no pointer distinguishing
// "absent" from "empty".
type ProviderResult struct {
	Address    string
	IsProxy    bool
	IsVPN      bool
	IsTor      bool
	IsHosting  bool
	Confidence int
	ASN        int
	ASNOrg     string
	Country    string
	Raw        string
}

// Provider is the capability set every external intel adapter implements.
type Provider interface {
	Name() string
	Priority() int
	IsEnabled() bool
	Check(ctx context.Context, address string) (*ProviderResult, error)
}

const defaultProviderTimeout = 5 * time.Second

// base centralizes the per-call timeout and error-swallowing every
// adapter needs; embedders provide fetch/parse only.
type base struct {
	name     string
	priority int
	enabled  func() bool
	timeout  time.Duration
	client   *http.Client
}

func newBase(name string, priority int, enabled func() bool, timeout time.Duration) base {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return base{
		name:     name,
		priority: priority,
		enabled:  enabled,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

func (b base) Name() string     { return b.name }
func (b base) Priority() int    { return b.priority }
func (b base) IsEnabled() bool  { return b.enabled() }

// callJSON performs a GET with the adapter's deadline, swallowing any
// transport/parse error into a nil result: one misbehaving provider
// must never stall or break the classification pipeline.
func (b base) callJSON(ctx context.Context, url string, headers map[string]string, out any) ([]byte, bool) {
	body, ok := b.doCallJSON(ctx, url, headers, out)
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	metrics.ProviderCallsTotal.WithLabelValues(b.name, outcome).Inc()
	return body, ok
}

func (b base) doCallJSON(ctx context.Context, url string, headers map[string]string, out any) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	for h, v := range headers {
		req.Header.Set(h, v)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, false
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return body, false
		}
	}
	return body, true
}

// ---- Free ASN-only adapter ----
//
// Always enabled. Parses a response shaped like ip-api.com/json's
// `as`/`org`/`isp`/`country` fields. Used directly by the engine's ASN
// heuristic layer, not only through the provider chain — ASN lookup
// always calls this even when paid providers are configured.
type FreeASNProvider struct {
	base
	baseURL string
}

func NewFreeASNProvider(baseURL string) *FreeASNProvider {
	if baseURL == "" {
		baseURL = "http://ip-api.com/json/%s?fields=as,org,isp,country"
	}
	return &FreeASNProvider{
		base:    newBase("free_asn", 1, func() bool { return true }, defaultProviderTimeout),
		baseURL: baseURL,
	}
}

var asRe = regexp.MustCompile(`^AS(\d+)\s*(.*)$`)

type freeASNResp struct {
	As      string `json:"as"`
	Org     string `json:"org"`
	Isp     string `json:"isp"`
	Country string `json:"country"`
}

func (p *FreeASNProvider) Check(ctx context.Context, address string) (*ProviderResult, error) {
	var resp freeASNResp
	raw, ok := p.callJSON(ctx, fmt.Sprintf(p.baseURL, address), nil, &resp)
	if !ok {
		return nil, nil
	}
	asn := 0
	org := resp.Org
	if m := asRe.FindStringSubmatch(resp.As); len(m) == 3 {
		asn, _ = strconv.Atoi(m[1])
		if org == "" {
			org = m[2]
		}
	}
	if strings.TrimSpace(org) == "" {
		org = resp.Isp
	}
	return &ProviderResult{
		Address:    address,
		Confidence: 75,
		ASN:        asn,
		ASNOrg:     strings.TrimSpace(org),
		Country:    resp.Country,
		Raw:        string(raw),
	}, nil
}

// ---- Privacy provider adapter ----
//
// Requires an API token. Priority 5. Maps privacy.{vpn,proxy,tor,
// relay,hosting} flags directly; proxy = provider's proxy OR relay.
type PrivacyProvider struct {
	base
	token   string
	baseURL string
}

func NewPrivacyProvider(token, baseURL string, timeout time.Duration) *PrivacyProvider {
	if baseURL == "" {
		baseURL = "https://privacy.example.com/v1/lookup/%s"
	}
	p := &PrivacyProvider{token: token, baseURL: baseURL}
	p.base = newBase("privacy", 5, func() bool { return token != "" }, timeout)
	return p
}

type privacyResp struct {
	Privacy struct {
		VPN     bool `json:"vpn"`
		Proxy   bool `json:"proxy"`
		Tor     bool `json:"tor"`
		Relay   bool `json:"relay"`
		Hosting bool `json:"hosting"`
	} `json:"privacy"`
	ASN     int    `json:"asn"`
	ASNOrg  string `json:"asn_org"`
	Country string `json:"country"`
}

func (p *PrivacyProvider) Check(ctx context.Context, address string) (*ProviderResult, error) {
	var resp privacyResp
	raw, ok := p.callJSON(ctx, fmt.Sprintf(p.baseURL, address), map[string]string{"Authorization": "Bearer " + p.token}, &resp)
	if !ok {
		return nil, nil
	}
	return &ProviderResult{
		Address:    address,
		IsProxy:    resp.Privacy.Proxy || resp.Privacy.Relay,
		IsVPN:      resp.Privacy.VPN,
		IsTor:      resp.Privacy.Tor,
		IsHosting:  resp.Privacy.Hosting,
		Confidence: 90,
		ASN:        resp.ASN,
		ASNOrg:     resp.ASNOrg,
		Country:    resp.Country,
		Raw:        string(raw),
	}, nil
}

// ---- Reputation provider adapter ----
//
// Requires an API key. Priority 8. Derives hosting/VPN/proxy from a
// usage-type string and an abuse-confidence score; final confidence =
// min(score+50, 100).
type ReputationProvider struct {
	base
	apiKey  string
	baseURL string
}

func NewReputationProvider(apiKey, baseURL string, timeout time.Duration) *ReputationProvider {
	if baseURL == "" {
		baseURL = "https://reputation.example.com/v1/check/%s"
	}
	p := &ReputationProvider{apiKey: apiKey, baseURL: baseURL}
	p.base = newBase("reputation", 8, func() bool { return apiKey != "" }, timeout)
	return p
}

type reputationResp struct {
	UsageType       string `json:"usageType"`
	AbuseConfidence int    `json:"abuseConfidenceScore"`
	ASN             int    `json:"asn"`
	ASNOrg          string `json:"isp"`
	Country         string `json:"countryCode"`
}

func (p *ReputationProvider) Check(ctx context.Context, address string) (*ProviderResult, error) {
	var resp reputationResp
	raw, ok := p.callJSON(ctx, fmt.Sprintf(p.baseURL, address), map[string]string{"X-Api-Key": p.apiKey}, &resp)
	if !ok {
		return nil, nil
	}
	usage := strings.ToLower(resp.UsageType)
	confidence := resp.AbuseConfidence + 50
	if confidence > 100 {
		confidence = 100
	}
	return &ProviderResult{
		Address:    address,
		IsHosting:  strings.Contains(usage, "hosting") || strings.Contains(usage, "data center") || strings.Contains(usage, "datacenter"),
		IsVPN:      strings.Contains(usage, "vpn"),
		IsProxy:    strings.Contains(usage, "proxy"),
		Confidence: confidence,
		ASN:        resp.ASN,
		ASNOrg:     resp.ASNOrg,
		Country:    resp.Country,
		Raw:        string(raw),
	}, nil
}

// NewRegistry composes a static, priority-sorted provider list. Built
// once at startup and passed by reference into the Engine.
func NewRegistry(providers ...Provider) []Provider {
	enabled := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			enabled = append(enabled, p)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority() < enabled[j].Priority() })
	return enabled
}

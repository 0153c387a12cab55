package reputation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFreeASNProvider_ParsesOrgAndASN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"as":"AS16509 Amazon.com, Inc.","org":"","isp":"Amazon","country":"US"}`))
	}))
	defer srv.Close()

	p := NewFreeASNProvider(srv.URL + "/%s")
	if !p.IsEnabled() {
		t.Fatal("free ASN provider should always be enabled")
	}
	res, err := p.Check(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.ASN != 16509 || res.ASNOrg != "Amazon.com, Inc." {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Country != "US" {
		t.Fatalf("want country US, got %q", res.Country)
	}
}

func TestFreeASNProvider_FallsBackToIspWhenOrgEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"as":"","org":"","isp":"Some ISP","country":"DE"}`))
	}))
	defer srv.Close()

	p := NewFreeASNProvider(srv.URL + "/%s")
	res, err := p.Check(context.Background(), "5.6.7.8")
	if err != nil {
		t.Fatal(err)
	}
	if res.ASNOrg != "Some ISP" {
		t.Fatalf("want isp fallback, got %q", res.ASNOrg)
	}
}

func TestFreeASNProvider_NonOKStatusReturnsNilResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewFreeASNProvider(srv.URL + "/%s")
	res, err := p.Check(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Fatalf("want nil result on upstream 5xx, got %+v", res)
	}
}

func TestPrivacyProvider_DisabledWithoutToken(t *testing.T) {
	p := NewPrivacyProvider("", "http://unused/%s", time.Second)
	if p.IsEnabled() {
		t.Fatal("privacy provider without a token must report disabled")
	}
}

func TestPrivacyProvider_MapsProxyAndRelayToIsProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"privacy":{"vpn":false,"proxy":false,"tor":false,"relay":true,"hosting":false},"asn":1234,"asn_org":"Example Net","country":"NL"}`))
	}))
	defer srv.Close()

	p := NewPrivacyProvider("secret", srv.URL+"/%s", time.Second)
	if !p.IsEnabled() {
		t.Fatal("privacy provider with a token should be enabled")
	}
	res, err := p.Check(context.Background(), "9.9.9.9")
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsProxy {
		t.Fatal("relay=true should map to IsProxy=true")
	}
	if res.ASN != 1234 || res.ASNOrg != "Example Net" || res.Country != "NL" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestReputationProvider_DerivesFlagsFromUsageType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"usageType":"Data Center/Web Hosting/Transit","abuseConfidenceScore":40,"asn":555,"isp":"HostCo","countryCode":"FR"}`))
	}))
	defer srv.Close()

	p := NewReputationProvider("key", srv.URL+"/%s", time.Second)
	res, err := p.Check(context.Background(), "2.2.2.2")
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsHosting {
		t.Fatal("usage type containing 'data center' should set IsHosting")
	}
	if res.Confidence != 90 {
		t.Fatalf("want confidence 40+50=90, got %d", res.Confidence)
	}
}

func TestReputationProvider_ConfidenceClampedAt100(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"usageType":"vpn","abuseConfidenceScore":90,"asn":1,"isp":"x","countryCode":"US"}`))
	}))
	defer srv.Close()

	p := NewReputationProvider("key", srv.URL+"/%s", time.Second)
	res, err := p.Check(context.Background(), "3.3.3.3")
	if err != nil {
		t.Fatal(err)
	}
	if res.Confidence != 100 {
		t.Fatalf("want confidence clamped to 100, got %d", res.Confidence)
	}
	if !res.IsVPN {
		t.Fatal("usage type containing 'vpn' should set IsVPN")
	}
}

func TestNewRegistry_SortsByPriorityAndSkipsNil(t *testing.T) {
	free := NewFreeASNProvider("")
	privacy := NewPrivacyProvider("tok", "", time.Second)
	rep := NewReputationProvider("key", "", time.Second)

	reg := NewRegistry(rep, nil, free, privacy)
	if len(reg) != 3 {
		t.Fatalf("want 3 non-nil providers, got %d", len(reg))
	}
	if reg[0].Name() != "free_asn" || reg[1].Name() != "privacy" || reg[2].Name() != "reputation" {
		names := []string{reg[0].Name(), reg[1].Name(), reg[2].Name()}
		t.Fatalf("want priority order [free_asn privacy reputation], got %v", names)
	}
}

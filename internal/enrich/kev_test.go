package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const kevCatalogFixture = `{
  "catalogVersion": "2024.01.15",
  "dateReleased": "2024-01-15T12:00:00.000Z",
  "vulnerabilities": [
    {
      "cveID": "CVE-2021-44228",
      "vendorProject": "Apache",
      "product": "Log4j2",
      "vulnerabilityName": "Apache Log4j2 Remote Code Execution Vulnerability",
      "dateAdded": "2021-12-10",
      "shortDescription": "Log4Shell",
      "requiredAction": "Apply updates per vendor instructions.",
      "dueDate": "2021-12-24",
      "knownRansomwareCampaignUse": "Known",
      "notes": ""
    },
    {
      "cveID": "CVE-2023-20198",
      "vendorProject": "Cisco",
      "product": "IOS XE",
      "vulnerabilityName": "Cisco IOS XE Web UI Privilege Escalation",
      "dateAdded": "2023-10-16",
      "shortDescription": "",
      "requiredAction": "",
      "dueDate": "2023-10-20",
      "knownRansomwareCampaignUse": "Unknown",
      "notes": ""
    }
  ]
}`

func kevServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(kevCatalogFixture))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestKEVClient_Lookup(t *testing.T) {
	t.Parallel()

	srv := kevServer(t, nil)
	client := NewKEVClient("", zap.NewNop())
	client.SetURL(srv.URL)

	ctx := context.Background()
	assert.True(t, client.IsExploited(ctx, "CVE-2021-44228"))
	assert.True(t, client.IsExploited(ctx, "cve-2021-44228"), "lookup is case insensitive")
	assert.False(t, client.IsExploited(ctx, "CVE-2024-0001"))

	entry, ok := client.Entry(ctx, "CVE-2021-44228")
	require.True(t, ok)
	assert.Equal(t, "Apache", entry.VendorProject)
	assert.True(t, entry.RansomwareUse())

	entry, ok = client.Entry(ctx, "CVE-2023-20198")
	require.True(t, ok)
	assert.False(t, entry.RansomwareUse())

	meta := client.Metadata(ctx)
	assert.Equal(t, "2024.01.15", meta.Version)
	assert.Equal(t, 2, meta.Count)
}

func TestKEVClient_MemoryCacheAvoidsRefetch(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := kevServer(t, &hits)
	client := NewKEVClient("", zap.NewNop())
	client.SetURL(srv.URL)

	ctx := context.Background()
	client.IsExploited(ctx, "CVE-2021-44228")
	client.IsExploited(ctx, "CVE-2023-20198")
	client.Entries(ctx, []string{"CVE-2021-44228", "CVE-2024-0001"})

	assert.Equal(t, int32(1), hits.Load())
}

func TestKEVClient_WritesAndReadsDiskCache(t *testing.T) {
	t.Parallel()

	cacheFile := filepath.Join(t.TempDir(), "kev", "catalog.json")
	srv := kevServer(t, nil)

	first := NewKEVClient(cacheFile, zap.NewNop())
	first.SetURL(srv.URL)
	require.True(t, first.IsExploited(context.Background(), "CVE-2021-44228"))

	data, err := os.ReadFile(cacheFile)
	require.NoError(t, err)
	assert.JSONEq(t, kevCatalogFixture, string(data))

	// A second client resolves entirely from disk: point it at a dead URL.
	second := NewKEVClient(cacheFile, zap.NewNop())
	second.SetURL("http://127.0.0.1:0/unreachable")
	assert.True(t, second.IsExploited(context.Background(), "CVE-2021-44228"))
}

func TestKEVClient_UnreachableFeedWithoutCache(t *testing.T) {
	t.Parallel()

	client := NewKEVClient("", zap.NewNop())
	client.SetURL("http://127.0.0.1:0/unreachable")

	// Lookup degrades to "not exploited" instead of failing.
	assert.False(t, client.IsExploited(context.Background(), "CVE-2021-44228"))
}

func TestKEVClient_Entries(t *testing.T) {
	t.Parallel()

	srv := kevServer(t, nil)
	client := NewKEVClient("", zap.NewNop())
	client.SetURL(srv.URL)

	entries := client.Entries(context.Background(), []string{
		"cve-2021-44228", "CVE-2023-20198", "CVE-2024-0001",
	})
	require.Len(t, entries, 2)
	assert.Contains(t, entries, "CVE-2021-44228")
	assert.Contains(t, entries, "CVE-2023-20198")
}

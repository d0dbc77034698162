package llmgateway

import "testing"

func TestParseCatalogAssignsAliasAndDefaultTier(t *testing.T) {
	data := []byte(`
fast:
  provider: openai
  model: gpt-4o-mini
  max_tokens: 4096
  supports_tools: true
local-llama:
  provider: ollama
  model: llama3
  tier: local
`)
	cat, err := ParseCatalog(data)
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}

	fast, ok := cat.Resolve("fast")
	if !ok {
		t.Fatalf("expected alias %q to resolve", "fast")
	}
	if fast.Alias != "fast" {
		t.Fatalf("expected Alias to be set to the map key, got %q", fast.Alias)
	}
	if fast.Tier != TierPaid {
		t.Fatalf("expected default tier paid, got %q", fast.Tier)
	}

	local, ok := cat.Resolve("local-llama")
	if !ok || local.Tier != TierLocal {
		t.Fatalf("expected local-llama tier local, got %+v ok=%v", local, ok)
	}
}

func TestResolveUnknownAlias(t *testing.T) {
	cat := NewCatalog(map[string]CatalogEntry{})
	if _, ok := cat.Resolve("missing"); ok {
		t.Fatalf("expected unknown alias to fail resolution")
	}
}

func TestFallbackChainOrdersLocalFreePaid(t *testing.T) {
	cat := NewCatalog(map[string]CatalogEntry{
		"paid-a": {Provider: "openai", Model: "gpt-4o", Tier: TierPaid},
		"local-a": {Provider: "ollama", Model: "llama3", Tier: TierLocal},
		"free-a":  {Provider: "openrouter", Model: "free-model", Tier: TierFree},
	})
	chain := cat.FallbackChain()
	if len(chain) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(chain))
	}
	if chain[0].Tier != TierLocal || chain[1].Tier != TierFree || chain[2].Tier != TierPaid {
		t.Fatalf("expected local, free, paid order, got %v %v %v", chain[0].Tier, chain[1].Tier, chain[2].Tier)
	}
}

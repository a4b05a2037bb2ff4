package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

func readyNode(id string, langs []string) *model.Node {
	return &model.Node{
		NodeID: id,
		Online: true,
		Status: model.StatusReady,
		Services: []model.InstalledService{
			{Type: model.ServiceASR, Status: model.ServiceRunning},
			{Type: model.ServiceNMT, Status: model.ServiceRunning},
			{Type: model.ServiceTTS, Status: model.ServiceRunning},
		},
		Languages: model.LanguageCapabilities{SemanticLanguages: langs},
	}
}

func TestRebuild_GroupsNodesByLanguageSet(t *testing.T) {
	pm := NewPoolManager(DefaultPoolConfig())
	pm.Rebuild([]*model.Node{
		readyNode("n1", []string{"en", "zh"}),
		readyNode("n2", []string{"en", "zh"}),
		readyNode("n3", []string{"de", "en"}),
	})

	all := pm.All()
	require.Len(t, all, 2)

	enZh, ok := pm.ByLanguageSet(model.NewLanguageSet([]string{"en", "zh"}))
	require.True(t, ok)
	require.Equal(t, "en-zh", enZh.Name)
}

func TestRebuild_SkipsNodesMissingCoreServices(t *testing.T) {
	pm := NewPoolManager(DefaultPoolConfig())
	incomplete := readyNode("n1", []string{"en", "zh"})
	incomplete.Services = incomplete.Services[:1] // ASR only, missing NMT/TTS

	pm.Rebuild([]*model.Node{incomplete})
	require.Empty(t, pm.All())
}

func TestRebuild_RespectsMinNodesPerPool(t *testing.T) {
	cfg := PoolConfig{MinNodesPerPool: 2, MaxPools: 64}
	pm := NewPoolManager(cfg)

	pm.Rebuild([]*model.Node{readyNode("n1", []string{"en", "zh"})})
	require.Empty(t, pm.All(), "a single node should not clear MinNodesPerPool=2")

	pm.Rebuild([]*model.Node{
		readyNode("n1", []string{"en", "zh"}),
		readyNode("n2", []string{"en", "zh"}),
	})
	require.Len(t, pm.All(), 1)
}

func TestRebuild_PreservesPoolIDAcrossRebuilds(t *testing.T) {
	pm := NewPoolManager(DefaultPoolConfig())
	pm.Rebuild([]*model.Node{readyNode("n1", []string{"en", "zh"})})
	p1, _ := pm.ByLanguageSet(model.NewLanguageSet([]string{"en", "zh"}))
	id := p1.ID

	pm.Rebuild([]*model.Node{
		readyNode("n1", []string{"en", "zh"}),
		readyNode("n2", []string{"en", "zh"}),
	})
	p2, _ := pm.ByLanguageSet(model.NewLanguageSet([]string{"en", "zh"}))
	require.Equal(t, id, p2.ID)
}

func TestRebuild_CapsAtMaxPools(t *testing.T) {
	cfg := PoolConfig{MinNodesPerPool: 1, MaxPools: 1}
	pm := NewPoolManager(cfg)

	pm.Rebuild([]*model.Node{
		readyNode("n1", []string{"en", "zh"}),
		readyNode("n2", []string{"de", "fr"}),
	})
	require.Len(t, pm.All(), 1)
}

func TestRebuild_KeepsExistingPoolsWhileNodesStillOnlineButUnqualified(t *testing.T) {
	pm := NewPoolManager(DefaultPoolConfig())
	pm.Rebuild([]*model.Node{readyNode("n1", []string{"en", "zh"})})
	require.Len(t, pm.All(), 1)

	degraded := readyNode("n1", []string{"en", "zh"})
	degraded.Status = model.StatusDegraded
	pm.Rebuild([]*model.Node{degraded})
	require.Len(t, pm.All(), 1, "existing pools should survive a transient dip with no qualifying nodes")
}

func TestRebuild_ClearsPoolsWhenNoNodesOnlineAtAll(t *testing.T) {
	pm := NewPoolManager(DefaultPoolConfig())
	pm.Rebuild([]*model.Node{readyNode("n1", []string{"en", "zh"})})
	require.Len(t, pm.All(), 1)

	offline := readyNode("n1", []string{"en", "zh"})
	offline.Online = false
	pm.Rebuild([]*model.Node{offline})
	require.Empty(t, pm.All())
}

func TestEnsurePool_CreatesOnDemandAndIsIdempotent(t *testing.T) {
	pm := NewPoolManager(DefaultPoolConfig())
	set := model.NewLanguageSet([]string{"ja", "ko"})

	p1 := pm.EnsurePool(set)
	p2 := pm.EnsurePool(set)
	require.Equal(t, p1.ID, p2.ID)
	require.Len(t, pm.All(), 1)
}

func TestLoadConfig_ReplacesTableAndSeedsNextID(t *testing.T) {
	pm := NewPoolManager(DefaultPoolConfig())
	pools := []*model.Pool{
		{ID: 5, Name: "en-zh", Languages: model.NewLanguageSet([]string{"en", "zh"}), RequiredServices: model.CoreServices},
	}
	pm.LoadConfig(pools, 5)

	require.Len(t, pm.All(), 1)
	require.Equal(t, 5, pm.NextID())

	p := pm.EnsurePool(model.NewLanguageSet([]string{"ja"}))
	require.Equal(t, 6, p.ID, "on-demand pools must not collide with the leader's next ID")
}

func TestTenantOverride(t *testing.T) {
	pm := NewPoolManager(DefaultPoolConfig())
	_, ok := pm.TenantOverride("tenant-1")
	require.False(t, ok)

	set := model.NewLanguageSet([]string{"en", "zh"})
	pm.SetTenantOverride("tenant-1", set)

	got, ok := pm.TenantOverride("tenant-1")
	require.True(t, ok)
	require.Equal(t, set, got)
}

package preset_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ptz-presets/device"
	"ptz-presets/preset"
)

func newStore(t *testing.T, presets ...device.Preset) (*preset.Store, *device.Memory) {
	t.Helper()
	gw := device.NewMemory(presets...)
	s := preset.NewStore(gw, gw.Profile())
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	gw.ResetCalls()
	return s, gw
}

func stageAltar(t *testing.T) (*preset.Store, *device.Memory) {
	return newStore(t,
		device.Preset{Token: "T1", Name: "Stage"},
		device.Preset{Token: "T2", Name: "Altar"},
	)
}

func TestRefreshLoadsCommittedNames(t *testing.T) {
	s, _ := stageAltar(t)
	names := s.Names()
	if len(names) != 2 || names["T1"] != "Stage" || names["T2"] != "Altar" {
		t.Fatalf("unexpected names: %v", names)
	}
	order := s.Order()
	if len(order) != 2 || order[0] != "T1" || order[1] != "T2" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestPendingRenameShadowsCommitted(t *testing.T) {
	s, gw := stageAltar(t)
	if err := s.RequestRename("T1", "Podium"); err != nil {
		t.Fatalf("RequestRename: %v", err)
	}
	if got := s.Names()["T1"]; got != "Podium" {
		t.Fatalf("expected pending name Podium, got %q", got)
	}
	if tok, ok := s.Token("Podium"); !ok || tok != "T1" {
		t.Fatalf("expected Podium → T1, got %q %v", tok, ok)
	}
	if _, ok := s.Token("Stage"); ok {
		t.Fatal("committed name Stage should no longer resolve")
	}
	if len(gw.Calls()) != 0 {
		t.Fatalf("deferred rename must not call the camera: %+v", gw.Calls())
	}
}

func TestRenameTwiceOverwritesPending(t *testing.T) {
	s, _ := stageAltar(t)
	s.RequestRename("T1", "Podium")
	s.RequestRename("T1", "Pulpit")
	if got := s.Pending()["T1"]; got != "Pulpit" {
		t.Fatalf("expected Pulpit, got %q", got)
	}
}

func TestRenameBackToCommittedCancelsPending(t *testing.T) {
	s, _ := stageAltar(t)
	s.RequestRename("T1", "Podium")
	s.RequestRename("T1", "Stage")
	if s.IsPending("T1") {
		t.Fatal("rename back to committed name should clear the pending slot")
	}
}

func TestRenameUnknownToken(t *testing.T) {
	s, _ := stageAltar(t)
	if err := s.RequestRename("T9", "Nope"); !errors.Is(err, preset.ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestDeferredRenameScenario(t *testing.T) {
	s, gw := stageAltar(t)
	ctx := context.Background()

	s.RequestRename("T1", "Podium")
	names := s.Names()
	if names["T1"] != "Podium" || names["T2"] != "Altar" {
		t.Fatalf("unexpected names after rename: %v", names)
	}

	// The camera still reports Stage for T1.
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := s.Names()["T1"]; got != "Podium" {
		t.Fatalf("refresh discarded pending rename, got %q", got)
	}

	gw.ResetCalls()
	ok, err := s.Commit(ctx, "T1")
	if err != nil || !ok {
		t.Fatalf("Commit: %v %v", ok, err)
	}
	sets := gw.CallsFor(device.OpSetPreset)
	if len(sets) != 1 || sets[0].Token != "T1" || sets[0].Name != "Podium" {
		t.Fatalf("expected set_preset(T1, Podium), got %+v", sets)
	}
	calls := gw.Calls()
	if calls[0].Op != device.OpGotoPreset || calls[0].Token != "T1" {
		t.Fatalf("commit must goto before set, got %+v", calls)
	}
	if s.IsPending("T1") {
		t.Fatal("T1 should no longer be pending")
	}
	if got := s.Names()["T1"]; got != "Podium" {
		t.Fatalf("expected committed Podium, got %q", got)
	}
	if gw.Presets()[0].Name != "Podium" {
		t.Fatalf("camera not renamed: %+v", gw.Presets()[0])
	}
}

func TestCommitDoesNotMovePresetPosition(t *testing.T) {
	s, gw := stageAltar(t)
	before := *gw.Presets()[0].Position
	gw.MoveTo(device.Position{Pan: 999})

	s.RequestRename("T1", "Podium")
	if _, err := s.Commit(context.Background(), "T1"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if after := *gw.Presets()[0].Position; after != before {
		t.Fatalf("commit overwrote position: %+v → %+v", before, after)
	}
}

func TestCommitTwiceIsIdempotent(t *testing.T) {
	s, gw := stageAltar(t)
	ctx := context.Background()
	s.RequestRename("T1", "Podium")
	if ok, err := s.Commit(ctx, "T1"); !ok || err != nil {
		t.Fatalf("first Commit: %v %v", ok, err)
	}
	gw.ResetCalls()
	ok, err := s.Commit(ctx, "T1")
	if ok || err != nil {
		t.Fatalf("second Commit should be a no-op, got %v %v", ok, err)
	}
	if n := len(gw.Calls()); n != 0 {
		t.Fatalf("second commit issued %d device calls", n)
	}
}

func TestCommitHereOnlySaves(t *testing.T) {
	s, gw := stageAltar(t)
	ctx := context.Background()
	if ok, err := s.CommitHere(ctx, "T2"); ok || err != nil {
		t.Fatalf("CommitHere with nothing pending: %v %v", ok, err)
	}
	s.RequestRename("T2", "Chancel")
	if ok, err := s.CommitHere(ctx, "T2"); !ok || err != nil {
		t.Fatalf("CommitHere: %v %v", ok, err)
	}
	calls := gw.Calls()
	if len(calls) != 1 || calls[0].Op != device.OpSetPreset || calls[0].Name != "Chancel" {
		t.Fatalf("expected a single set_preset, got %+v", calls)
	}
	if s.IsPending("T2") || s.Names()["T2"] != "Chancel" {
		t.Fatalf("rename not committed: %v", s.Names())
	}
}

func TestCommitFailureKeepsPending(t *testing.T) {
	s, gw := stageAltar(t)
	s.RequestRename("T1", "Podium")
	gw.Fail(device.OpSetPreset, "", errors.New("timeout"))
	if _, err := s.Commit(context.Background(), "T1"); err == nil {
		t.Fatal("expected error")
	}
	if got := s.Pending()["T1"]; got != "Podium" {
		t.Fatalf("pending lost after failed commit: %v", s.Pending())
	}
}

func TestCommitAllPartialFailure(t *testing.T) {
	s, gw := stageAltar(t)
	s.RequestRename("T1", "Podium")
	s.RequestRename("T2", "Chancel")
	gw.Fail(device.OpSetPreset, "T2", errors.New("device busy"))

	done, err := s.CommitAll(context.Background())
	if len(done) != 1 || done[0] != "T1" {
		t.Fatalf("expected T1 committed, got %v", done)
	}
	var ce *preset.CommitError
	if !errors.As(err, &ce) || ce.Token != "T2" {
		t.Fatalf("expected CommitError for T2, got %v", err)
	}
	pending := s.Pending()
	if _, ok := pending["T1"]; ok {
		t.Fatal("T1 should have left pending")
	}
	if pending["T2"] != "Chancel" {
		t.Fatalf("T2 should remain pending, got %v", pending)
	}

	gw.Fail(device.OpSetPreset, "T2", nil)
	done, err = s.CommitAll(context.Background())
	if err != nil || len(done) != 1 || done[0] != "T2" {
		t.Fatalf("resumed CommitAll: %v %v", done, err)
	}
}

func TestRefreshPicksUpDeviceChanges(t *testing.T) {
	s, gw := stageAltar(t)
	gw.Rename("T2", "Choir")
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := s.Names()["T2"]; got != "Choir" {
		t.Fatalf("expected Choir, got %q", got)
	}
}

func TestRefreshDropsPendingForVanishedPreset(t *testing.T) {
	s, gw := stageAltar(t)
	s.RequestRename("T2", "Chancel")
	gw.RemovePreset(context.Background(), gw.Profile(), "T2")
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if s.IsPending("T2") {
		t.Fatal("pending rename for a deleted preset should be dropped")
	}
}

func TestRefreshFailureKeepsState(t *testing.T) {
	s, gw := stageAltar(t)
	gw.Fail(device.OpListPresets, "", errors.New("unreachable"))
	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(s.Names()) != 2 {
		t.Fatalf("state changed on failed refresh: %v", s.Names())
	}
}

func TestTokensPendingShadowsCommittedDuplicate(t *testing.T) {
	s, _ := stageAltar(t)
	// T2 takes the name T1 still holds on the camera.
	s.RequestRename("T2", "Stage")
	tokens := s.Tokens()
	if tokens["Stage"] != "T2" {
		t.Fatalf("pending name should win, got %v", tokens)
	}
	shadowed := s.Shadowed()
	if len(shadowed) != 1 || shadowed[0] != "T1" {
		t.Fatalf("expected T1 shadowed, got %v", shadowed)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected one effective name, got %v", tokens)
	}
}

func TestTokensCommittedDuplicatesFirstWins(t *testing.T) {
	s, _ := newStore(t,
		device.Preset{Token: "1", Name: "Middenschip"},
		device.Preset{Token: "2", Name: "Orgel"},
		device.Preset{Token: "3", Name: "Middenschip"},
	)
	if got := s.Tokens()["Middenschip"]; got != "1" {
		t.Fatalf("expected first in camera order, got %q", got)
	}
}

func TestDeleteRemovesBothLayers(t *testing.T) {
	s, gw := stageAltar(t)
	s.RequestRename("T1", "Podium")
	if err := s.Delete(context.Background(), "T1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Name("T1"); ok {
		t.Fatal("T1 still has a name")
	}
	if _, ok := s.Token("Podium"); ok {
		t.Fatal("pending reverse entry still present")
	}
	if len(gw.CallsFor(device.OpRemovePreset)) != 1 {
		t.Fatal("expected remove_preset call")
	}
}

func TestDeleteFailureKeepsState(t *testing.T) {
	s, gw := stageAltar(t)
	gw.Fail(device.OpRemovePreset, "", errors.New("denied"))
	if err := s.Delete(context.Background(), "T1"); err == nil {
		t.Fatal("expected error")
	}
	if !s.Has("T1") {
		t.Fatal("T1 removed despite device failure")
	}
}

func TestAddPlacesTokenInCommitted(t *testing.T) {
	s, _ := stageAltar(t)
	token, name, err := s.Add(context.Background(), "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !s.Has(token) || name == "" {
		t.Fatalf("new preset missing: %q %q", token, name)
	}
	order := s.Order()
	if order[len(order)-1] != token {
		t.Fatalf("new token not last: %v", order)
	}
}

func TestSaveResolvesPendingRename(t *testing.T) {
	s, gw := stageAltar(t)
	s.RequestRename("T1", "Podium")
	name, err := s.Save(context.Background(), "T1", "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if name != "Podium" || s.IsPending("T1") {
		t.Fatalf("save should write the effective name: %q pending=%v", name, s.IsPending("T1"))
	}
	sets := gw.CallsFor(device.OpSetPreset)
	if len(sets) != 1 || sets[0].Name != "Podium" {
		t.Fatalf("unexpected set calls: %+v", sets)
	}
}

func TestLocateFindsPresetAtCurrentPosition(t *testing.T) {
	s, gw := stageAltar(t)
	ctx := context.Background()
	gw.GotoPreset(ctx, gw.Profile(), "T2")
	token, ok, err := s.Locate(ctx)
	if err != nil || !ok || token != "T2" {
		t.Fatalf("Locate: %q %v %v", token, ok, err)
	}
	gw.MoveTo(device.Position{Pan: 1})
	if _, ok, _ := s.Locate(ctx); ok {
		t.Fatal("no preset should match an arbitrary position")
	}
}

func TestListMarksPending(t *testing.T) {
	s, _ := stageAltar(t)
	s.RequestRename("T2", "Chancel")
	list := s.List()
	if list[1].Name != "Chancel" || !list[1].Pending || list[1].Committed != "Altar" {
		t.Fatalf("unexpected entry: %+v", list[1])
	}
	if list[0].Pending {
		t.Fatalf("T1 should not be pending: %+v", list[0])
	}
}

func TestConcurrentReadsDuringRenames(t *testing.T) {
	s, _ := stageAltar(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				s.RequestRename("T1", "Podium")
			} else {
				s.RequestRename("T1", "Pulpit")
			}
		}(i)
		go func() {
			defer wg.Done()
			s.Names()
			s.Tokens()
		}()
	}
	wg.Wait()
}

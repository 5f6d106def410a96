package ledger

import (
	"testing"
	"time"

	"github.com/hydrusnetwork/repoledger/internal/ledger/collab"
	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

const tagRepoType ledgertypes.ServiceType = 1

func setUpTagRepo(e *testEnv, key ledgertypes.ServiceKey) ledgertypes.ServiceID {
	e.Registry.SetContentTypes(tagRepoType, []ledgertypes.ContentType{
		ledgertypes.ContentTypeMappings,
		ledgertypes.ContentTypeTagParents,
		ledgertypes.ContentTypeTagSiblings,
	})
	return e.NewService(key, tagRepoType)
}

// S1 — fresh subscription.
func TestFreshSubscription(t *testing.T) {
	e := newTestEnv(t)
	key := ledgertypes.ServiceKey("svc-1")
	setUpTagRepo(e, key)

	hDef0 := []byte("def0")
	hFiles0 := []byte("files0")
	hDef1 := []byte("def1")

	e.SetUpdateHashes(key, ih(0, hDef0), ih(0, hFiles0), ih(1, hDef1))

	serviceID, err := e.Registry.IDOf(key)
	if err != nil {
		t.Fatalf("IDOf failed: %v", err)
	}
	names := namesFor(serviceID)

	var numUpdates, numUnregistered, numProcessed int
	if err := e.Ledger.db.QueryRow(`SELECT COUNT(*) FROM ` + names.Updates).Scan(&numUpdates); err != nil {
		t.Fatalf("count updates: %v", err)
	}
	if numUpdates != 3 {
		t.Errorf("updates rows = %d, want 3", numUpdates)
	}
	if err := e.Ledger.db.QueryRow(`SELECT COUNT(*) FROM ` + names.Unregistered).Scan(&numUnregistered); err != nil {
		t.Fatalf("count unregistered: %v", err)
	}
	if numUnregistered != 3 {
		t.Errorf("unregistered rows = %d, want 3", numUnregistered)
	}
	if err := e.Ledger.db.QueryRow(`SELECT COUNT(*) FROM ` + names.Processed).Scan(&numProcessed); err != nil {
		t.Fatalf("count processed: %v", err)
	}
	if numProcessed != 0 {
		t.Errorf("processed rows = %d, want 0", numProcessed)
	}

	missing, err := e.Ledger.GetRepositoryUpdateHashesIDoNotHave(e.Ctx, key)
	if err != nil {
		t.Fatalf("GetRepositoryUpdateHashesIDoNotHave failed: %v", err)
	}
	want := [][]byte{hDef0, hFiles0, hDef1}
	if len(missing) != len(want) {
		t.Fatalf("missing = %v, want %v", missing, want)
	}
	for i := range want {
		if string(missing[i]) != string(want[i]) {
			t.Errorf("missing[%d] = %q, want %q", i, missing[i], want[i])
		}
	}
}

// S2 — registration gating: an update whose file has not arrived stays
// unregistered and blocks its own index, so only the registered
// definitions update before it is surfaced as work, and no content work.
func TestRegistrationGating(t *testing.T) {
	e := newTestEnv(t)
	key := ledgertypes.ServiceKey("svc-2")
	setUpTagRepo(e, key)

	hDef0 := []byte("def0")
	hFiles0 := []byte("files0")
	e.SetUpdateHashes(key, ih(0, hDef0), ih(1, hFiles0))

	def0ID, _ := e.HashCache.Intern(hDef0)
	e.Files.SetLocal(def0ID, ledgertypes.MimeApplicationHydrusUpdateDefinitions)

	// Only def0's file has arrived; files0 is still unregistered (its mime
	// is unknown to the local file store), so it remains the blocker.
	if err := e.Ledger.NotifyUpdatesImported(e.Ctx, []ledgertypes.HashID{def0ID}); err != nil {
		t.Fatalf("NotifyUpdatesImported failed: %v", err)
	}

	readiness, err := e.Ledger.GetRepositoryUpdateHashesICanProcess(e.Ctx, key, []ledgertypes.ContentType{
		ledgertypes.ContentTypeDefinitions, ledgertypes.ContentTypeMappings,
		ledgertypes.ContentTypeTagParents, ledgertypes.ContentTypeTagSiblings,
	})
	if err != nil {
		t.Fatalf("GetRepositoryUpdateHashesICanProcess failed: %v", err)
	}
	if !readiness.FirstDefinitionsPass {
		t.Errorf("FirstDefinitionsPass = false, want true")
	}
	if len(readiness.DefinitionWork) != 1 {
		t.Fatalf("DefinitionWork = %v, want 1 item", readiness.DefinitionWork)
	}
	if string(readiness.DefinitionWork[0].HashBytes) != string(hDef0) {
		t.Errorf("DefinitionWork[0].HashBytes = %q, want %q", readiness.DefinitionWork[0].HashBytes, hDef0)
	}
	if len(readiness.ContentWork) != 0 {
		t.Errorf("ContentWork = %v, want empty (files0 at index 1 still unregistered)", readiness.ContentWork)
	}
}

// S3 — definition apply.
func TestDefinitionApply(t *testing.T) {
	e := newTestEnv(t)
	key := ledgertypes.ServiceKey("svc-3")
	serviceID := setUpTagRepo(e, key)

	hDef0 := []byte("def0")
	e.SetUpdateHashes(key, ih(0, hDef0))
	def0ID, _ := e.HashCache.Intern(hDef0)
	e.Files.SetLocal(def0ID, ledgertypes.MimeApplicationHydrusUpdateDefinitions)
	if err := e.Ledger.NotifyUpdatesImported(e.Ctx, []ledgertypes.HashID{def0ID}); err != nil {
		t.Fatalf("NotifyUpdatesImported failed: %v", err)
	}

	b0 := []byte("b0")
	b1 := []byte("b1")
	hashCursor := fakeCursor([]kv{
		{remoteID: 100, hashBytes: b0},
		{remoteID: 101, hashBytes: b1},
	})
	tagCursor := fakeCursor([]kv{{remoteID: 200, tag: "cat"}})

	n, err := e.Ledger.ProcessRepositoryDefinitions(e.Ctx, key, hDef0, DefinitionIterators{
		ServiceHashIDsToHashes: hashCursor,
		ServiceTagIDsToTags:    tagCursor,
	}, nil, NewJobHandle(nil), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ProcessRepositoryDefinitions failed: %v", err)
	}
	if n != 3 {
		t.Errorf("num_rows_applied = %d, want 3", n)
	}

	gotHash, err := e.Ledger.NormaliseServiceHashId(e.Ctx, serviceID, 100)
	if err != nil {
		t.Fatalf("NormaliseServiceHashId failed: %v", err)
	}
	wantHash, _ := e.HashCache.Intern(b0)
	if gotHash != wantHash {
		t.Errorf("NormaliseServiceHashId(100) = %d, want %d", gotHash, wantHash)
	}

	gotTag, err := e.Ledger.NormaliseServiceTagId(e.Ctx, serviceID, 200)
	if err != nil {
		t.Fatalf("NormaliseServiceTagId failed: %v", err)
	}
	wantTag, _ := e.TagCache.Intern("cat")
	if gotTag != wantTag {
		t.Errorf("NormaliseServiceTagId(200) = %d, want %d", gotTag, wantTag)
	}

	names := namesFor(serviceID)
	var processed bool
	if err := e.Ledger.db.QueryRow(`SELECT processed FROM `+names.Processed+` WHERE hash_id = ? AND content_type = ?`,
		int64(def0ID), int(ledgertypes.ContentTypeDefinitions)).Scan(&processed); err != nil {
		t.Fatalf("query processed row: %v", err)
	}
	if !processed {
		t.Errorf("processed = false, want true")
	}
}

// S4 — time-sliced resume.
func TestTimeSlicedResume(t *testing.T) {
	e := newTestEnv(t)
	key := ledgertypes.ServiceKey("svc-4")
	serviceID := setUpTagRepo(e, key)

	hDef0 := []byte("def0")
	e.SetUpdateHashes(key, ih(0, hDef0))
	def0ID, _ := e.HashCache.Intern(hDef0)
	e.Files.SetLocal(def0ID, ledgertypes.MimeApplicationHydrusUpdateDefinitions)
	if err := e.Ledger.NotifyUpdatesImported(e.Ctx, []ledgertypes.HashID{def0ID}); err != nil {
		t.Fatalf("NotifyUpdatesImported failed: %v", err)
	}

	pairs := make([]kv, 5000)
	for i := range pairs {
		pairs[i] = kv{remoteID: int64(i), hashBytes: []byte{byte(i), byte(i >> 8)}}
	}
	cursor := fakeCursor(pairs)

	n, err := e.Ledger.ProcessRepositoryDefinitions(e.Ctx, key, hDef0, DefinitionIterators{
		ServiceHashIDsToHashes: cursor,
	}, nil, NewJobHandle(nil), time.Now())
	if err != nil {
		t.Fatalf("ProcessRepositoryDefinitions failed: %v", err)
	}
	if n != 0 && n != 50 && n != 100 {
		t.Errorf("num_rows_applied = %d, want one of {0, 50, 100}", n)
	}

	names := namesFor(serviceID)
	var processed bool
	if err := e.Ledger.db.QueryRow(`SELECT processed FROM `+names.Processed+` WHERE hash_id = ? AND content_type = ?`,
		int64(def0ID), int(ledgertypes.ContentTypeDefinitions)).Scan(&processed); err != nil {
		t.Fatalf("query processed row: %v", err)
	}
	if processed {
		t.Errorf("processed = true, want false (deadline expired mid-ingestion)")
	}

	n2, err := e.Ledger.ProcessRepositoryDefinitions(e.Ctx, key, hDef0, DefinitionIterators{
		ServiceHashIDsToHashes: cursor,
	}, nil, NewJobHandle(nil), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("resumed ProcessRepositoryDefinitions failed: %v", err)
	}
	if n2 != 5000-n {
		t.Errorf("resumed num_rows_applied = %d, want %d", n2, 5000-n)
	}

	if err := e.Ledger.db.QueryRow(`SELECT processed FROM `+names.Processed+` WHERE hash_id = ? AND content_type = ?`,
		int64(def0ID), int(ledgertypes.ContentTypeDefinitions)).Scan(&processed); err != nil {
		t.Fatalf("query processed row: %v", err)
	}
	if !processed {
		t.Errorf("processed = false after completion, want true")
	}
}

// S5 — critical recovery.
func TestCriticalRecovery(t *testing.T) {
	e := newTestEnv(t)
	key := ledgertypes.ServiceKey("svc-5")
	serviceID := setUpTagRepo(e, key)

	hDef0 := []byte("def0")
	e.SetUpdateHashes(key, ih(0, hDef0))
	def0ID, _ := e.HashCache.Intern(hDef0)
	e.Files.SetLocal(def0ID, ledgertypes.MimeApplicationHydrusUpdateDefinitions)
	if err := e.Ledger.NotifyUpdatesImported(e.Ctx, []ledgertypes.HashID{def0ID}); err != nil {
		t.Fatalf("NotifyUpdatesImported failed: %v", err)
	}

	names := namesFor(serviceID)
	if _, err := e.Ledger.db.Exec(`UPDATE `+names.Processed+` SET processed = 1 WHERE content_type = ?`, int(ledgertypes.ContentTypeDefinitions)); err != nil {
		t.Fatalf("seed processed row: %v", err)
	}

	_, err := e.Ledger.NormaliseServiceHashId(e.Ctx, serviceID, 999)
	var critErr *CriticalRepositoryDefinition
	if err == nil {
		t.Fatalf("expected CriticalRepositoryDefinition error, got nil")
	}
	if !asCriticalError(err, &critErr) {
		t.Fatalf("error %v is not a *CriticalRepositoryDefinition", err)
	}

	var processed bool
	if err := e.Ledger.db.QueryRow(`SELECT processed FROM `+names.Processed+` WHERE content_type = ?`, int(ledgertypes.ContentTypeDefinitions)).Scan(&processed); err != nil {
		t.Fatalf("query processed row: %v", err)
	}
	if processed {
		t.Errorf("processed = true after critical error, want false")
	}

	if len(e.Maintenance.Jobs) != 2 {
		t.Fatalf("maintenance jobs = %d, want 2 (INTEGRITY_DATA + METADATA)", len(e.Maintenance.Jobs))
	}
	seenIntegrity, seenMetadata := false, false
	for _, j := range e.Maintenance.Jobs {
		switch j.Job {
		case ledgertypes.FileMaintenanceIntegrityData:
			seenIntegrity = true
		case ledgertypes.FileMaintenanceMetadata:
			seenMetadata = true
		}
	}
	if !seenIntegrity || !seenMetadata {
		t.Errorf("expected both INTEGRITY_DATA and METADATA jobs, got %+v", e.Maintenance.Jobs)
	}
}

// S6 — re-sync shrinks.
func TestResyncShrinks(t *testing.T) {
	e := newTestEnv(t)
	key := ledgertypes.ServiceKey("svc-6")
	serviceID := setUpTagRepo(e, key)

	hDef0 := []byte("def0")
	hFiles0 := []byte("files0")
	e.SetUpdateHashes(key, ih(0, hDef0), ih(1, hFiles0))

	def0ID, _ := e.HashCache.Intern(hDef0)
	files0ID, _ := e.HashCache.Intern(hFiles0)
	e.Files.SetLocal(def0ID, ledgertypes.MimeApplicationHydrusUpdateDefinitions)
	if err := e.Ledger.NotifyUpdatesImported(e.Ctx, []ledgertypes.HashID{def0ID}); err != nil {
		t.Fatalf("NotifyUpdatesImported: %v", err)
	}

	hashCursor := fakeCursor([]kv{{remoteID: 100, hashBytes: []byte("b0")}})
	if _, err := e.Ledger.ProcessRepositoryDefinitions(e.Ctx, key, hDef0, DefinitionIterators{
		ServiceHashIDsToHashes: hashCursor,
	}, nil, NewJobHandle(nil), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("ProcessRepositoryDefinitions: %v", err)
	}

	e.SetUpdateHashes(key, ih(0, hDef0))

	names := namesFor(serviceID)
	for _, table := range []string{names.Updates, names.Unregistered, names.Processed} {
		var n int
		if err := e.Ledger.db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE hash_id = ?`, int64(files0ID)).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("table %s still has %d row(s) for retired hash, want 0", table, n)
		}
	}

	var mapHashID int64
	if err := e.Ledger.db.QueryRow(`SELECT hash_id FROM `+names.HashMap+` WHERE service_hash_id = 100`).Scan(&mapHashID); err != nil {
		t.Fatalf("hash_id_map row should remain untouched after re-sync: %v", err)
	}
	wantHash, _ := e.HashCache.Intern([]byte("b0"))
	if ledgertypes.HashID(mapHashID) != wantHash {
		t.Errorf("hash_id_map row = %d, want %d", mapHashID, wantHash)
	}
}

type kv struct {
	remoteID  int64
	hashBytes []byte
	tag       string
}

func fakeCursor(pairs []kv) *collab.SliceCursor {
	out := make([]collab.KV, len(pairs))
	for i, p := range pairs {
		out[i] = collab.KV{RemoteID: p.remoteID, HashBytes: p.hashBytes, Tag: p.tag}
	}
	return collab.NewSliceCursor(out)
}

func asCriticalError(err error, target **CriticalRepositoryDefinition) bool {
	ce, ok := err.(*CriticalRepositoryDefinition)
	if !ok {
		return false
	}
	*target = ce
	return true
}

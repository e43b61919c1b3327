//go:build !sqlite_fts5

package index

import "testing"

func TestSearch_LikeWildcardsAreLiteral(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(DocumentRow{Path: "pct.json", Title: "Progress", Checksum: "1"}, "done 100% today")
	_ = db.UpsertDocument(DocumentRow{Path: "other.json", Title: "Other", Checksum: "2"}, "done 1000 today")

	results, err := db.Search("100%", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "pct.json" {
		t.Errorf("results = %+v, want only pct.json", results)
	}
}

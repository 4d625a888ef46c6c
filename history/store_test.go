package history_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dimpressionist/engine/history"
)

func TestStore_AppendAssignsIDAndTimestamp(t *testing.T) {
	s := history.NewStore()

	id := s.Append(history.Record{Kind: history.KindNew, Prompt: "a cat"})

	if !strings.HasPrefix(id, "gen_") {
		t.Errorf("id = %q, want gen_ prefix", id)
	}
	rec, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get(%q) error: %v", id, err)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStore_AppendKeepsCallerID(t *testing.T) {
	s := history.NewStore()

	id := s.Append(history.Record{ID: "gen_fixed", Kind: history.KindNew})
	if id != "gen_fixed" {
		t.Errorf("id = %q, want gen_fixed", id)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	s := history.NewStore()

	_, err := s.Get("gen_missing")
	if !errors.Is(err, history.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := history.NewStore()
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, s.Append(history.Record{Kind: history.KindNew, Prompt: fmt.Sprintf("prompt %d", i)}))
	}

	page := s.List(10, 0, history.FilterAll)

	if page.Total != 5 {
		t.Fatalf("Total = %d, want 5", page.Total)
	}
	if got := page.Records[0].ID; got != ids[4] {
		t.Errorf("first record = %q, want newest %q", got, ids[4])
	}
	if got := page.Records[4].ID; got != ids[0] {
		t.Errorf("last record = %q, want oldest %q", got, ids[0])
	}
}

func TestStore_ListPagination(t *testing.T) {
	s := history.NewStore()
	for i := 0; i < 5; i++ {
		s.Append(history.Record{Kind: history.KindNew})
	}

	page := s.List(2, 2, history.FilterAll)
	if len(page.Records) != 2 {
		t.Errorf("len = %d, want 2", len(page.Records))
	}
	if page.Total != 5 {
		t.Errorf("Total = %d, want 5", page.Total)
	}

	tail := s.List(10, 4, history.FilterAll)
	if len(tail.Records) != 1 {
		t.Errorf("tail len = %d, want 1", len(tail.Records))
	}

	past := s.List(10, 99, history.FilterAll)
	if len(past.Records) != 0 {
		t.Errorf("past-end len = %d, want 0", len(past.Records))
	}
	if past.Total != 5 {
		t.Errorf("past-end Total = %d, want 5", past.Total)
	}
}

func TestStore_ListFilter(t *testing.T) {
	s := history.NewStore()
	s.Append(history.Record{Kind: history.KindNew})
	s.Append(history.Record{Kind: history.KindRefinement})
	s.Append(history.Record{Kind: history.KindRefinement})

	if got := s.List(10, 0, history.FilterNew).Total; got != 1 {
		t.Errorf("new total = %d, want 1", got)
	}
	if got := s.List(10, 0, history.FilterRefinement).Total; got != 2 {
		t.Errorf("refinement total = %d, want 2", got)
	}
}

func TestStore_Current(t *testing.T) {
	s := history.NewStore()

	if _, ok := s.Current(); ok {
		t.Error("empty store should have no current record")
	}

	id1 := s.Append(history.Record{Kind: history.KindNew})
	id2 := s.Append(history.Record{Kind: history.KindRefinement})

	if err := s.SetCurrent(id1); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	cur, ok := s.Current()
	if !ok || cur.ID != id1 {
		t.Errorf("current = %q, want %q", cur.ID, id1)
	}

	if err := s.SetCurrent(id2); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	if s.CurrentID() != id2 {
		t.Errorf("CurrentID = %q, want %q", s.CurrentID(), id2)
	}

	if err := s.SetCurrent("gen_missing"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("SetCurrent(missing) = %v, want ErrNotFound", err)
	}
	if s.CurrentID() != id2 {
		t.Error("failed SetCurrent must not move the pointer")
	}
}

func TestStore_Clear(t *testing.T) {
	s := history.NewStore()
	id := s.Append(history.Record{Kind: history.KindNew})
	s.Append(history.Record{Kind: history.KindRefinement})
	if err := s.SetCurrent(id); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}

	if got := s.Clear(); got != 2 {
		t.Errorf("Clear = %d, want 2", got)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
	if _, ok := s.Current(); ok {
		t.Error("current pointer must reset on clear")
	}
	if s.SessionID() == "" {
		t.Error("session id must survive clear")
	}
}

func TestStore_SessionIDPrefix(t *testing.T) {
	s := history.NewStore()
	if !strings.HasPrefix(s.SessionID(), "sess_") {
		t.Errorf("session id = %q, want sess_ prefix", s.SessionID())
	}
}

func TestNewID_RefinementSuffix(t *testing.T) {
	id := history.NewID(history.KindRefinement)
	if !strings.HasPrefix(id, "gen_") || !strings.HasSuffix(id, "_refined") {
		t.Errorf("id = %q, want gen_*_refined", id)
	}
	if history.NewID(history.KindNew) == id {
		t.Error("ids must be unique")
	}
}

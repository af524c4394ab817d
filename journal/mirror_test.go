package journal_test

import (
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/ldpcoffload/journal"
	"xdao.co/ldpcoffload/journal/testkit"
)

func TestMirror_Conformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) journal.Store {
		t.Helper()
		m, err := journal.NewMirror(t.TempDir(), t.TempDir())
		if err != nil {
			t.Fatalf("NewMirror failed: %v", err)
		}
		return m
	})
}

func TestMirror_WritesEveryReplica(t *testing.T) {
	a, b := &journal.Memory{}, &journal.Memory{}
	m := journal.Mirror{Replicas: []journal.Replica{{Name: "a", Store: a}, {Name: "b", Store: b}}}
	id, err := m.Put([]byte("record"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !a.Has(id) || !b.Has(id) {
		t.Fatalf("object not on every replica")
	}
}

func TestMirror_ReadsFallBack(t *testing.T) {
	a, b := &journal.Memory{}, &journal.Memory{}
	id, err := b.Put([]byte("only on b"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	m := journal.Mirror{Replicas: []journal.Replica{{Name: "a", Store: a}, {Name: "b", Store: b}}}
	got, err := m.Get(id)
	if err != nil || string(got) != "only on b" {
		t.Fatalf("Get: %q, %v", got, err)
	}
	if !m.Has(id) {
		t.Fatalf("Has: false")
	}

	other, _ := journal.ContentID([]byte("absent"))
	if _, err := m.Get(other); !journal.IsNotFound(err) {
		t.Fatalf("Get absent: got %v want ErrNotFound", err)
	}
}

type wrongKeyStore struct{ journal.Memory }

func (s *wrongKeyStore) Put(b []byte) (cid.Cid, error) {
	if _, err := s.Memory.Put(b); err != nil {
		return cid.Undef, err
	}
	return journal.ContentID(append([]byte("x"), b...))
}

func TestMirror_RejectsMismatchedKey(t *testing.T) {
	m := journal.Mirror{Replicas: []journal.Replica{{Name: "good", Store: &journal.Memory{}}, {Name: "bad", Store: &wrongKeyStore{}}}}
	if _, err := m.Put([]byte("record")); !errors.Is(err, journal.ErrCIDMismatch) {
		t.Fatalf("Put: got %v want ErrCIDMismatch", err)
	}
}

func TestMirror_Empty(t *testing.T) {
	if _, err := journal.NewMirror(); err == nil {
		t.Fatalf("expected error for no directories")
	}
	if _, err := (journal.Mirror{}).Put([]byte("x")); err == nil {
		t.Fatalf("expected error for no replicas")
	}
}

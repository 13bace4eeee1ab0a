package userauth

import (
	"context"
	"errors"
	"testing"
)

func TestUpsertAndAuthenticate(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := s.Upsert(ctx, "alice", "hunter2"); err != nil {
		t.Fatal(err)
	}
	if err := s.Authenticate(ctx, "alice", "hunter2"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if err := s.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrBadPassword) {
		t.Fatalf("got %v, want ErrBadPassword", err)
	}
	if err := s.Authenticate(ctx, "nobody", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUpsertOverwritesPassword(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := s.Upsert(ctx, "bob", "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, "bob", "second"); err != nil {
		t.Fatal(err)
	}
	if err := s.Authenticate(ctx, "bob", "first"); err == nil {
		t.Fatal("expected the old password to no longer work")
	}
	if err := s.Authenticate(ctx, "bob", "second"); err != nil {
		t.Fatalf("expected the new password to work, got %v", err)
	}
}

func TestInUserList(t *testing.T) {
	list := []string{"alice", "bob"}
	if !InUserList(list, "alice") {
		t.Fatal("expected alice to be found")
	}
	if InUserList(list, "carol") {
		t.Fatal("did not expect carol to be found")
	}
}
